package components

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/ajitpratap0/quasar/pkg/compression"
	"github.com/ajitpratap0/quasar/pkg/dbf"
	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/fs"
	"github.com/ajitpratap0/quasar/pkg/graph"
	"github.com/ajitpratap0/quasar/pkg/parser"
	"github.com/ajitpratap0/quasar/pkg/token"
)

// Writer formats the records of port 0 into a file
type Writer struct {
	*graph.BaseNode
	fileURL string
	memoURL string
	format  string
	level   compression.Level
	props   graph.Properties

	formatter parser.Formatter
}

// NewWriter is the factory of the writer component
func NewWriter(id string, props graph.Properties) (graph.Node, error) {
	fileURL, err := props.Required("file_url")
	if err != nil {
		return nil, err
	}
	level, err := props.Int("compression_level", int(compression.Default))
	if err != nil {
		return nil, err
	}
	return &Writer{
		BaseNode: graph.NewBaseNode(id, TypeWriter, graph.PortSpec{MinInputs: 1, MaxInputs: 1}),
		fileURL:  fileURL,
		memoURL:  props.String("memo_url", ""),
		level:    compression.Level(level),
		props:    props,
	}, nil
}

// Init prepares the formatter for the input metadata
func (w *Writer) Init(ctx context.Context, env *graph.Env) error {
	in := w.InputPort(0)
	if in == nil || in.Metadata() == nil {
		return errors.Newf(errors.ErrorTypeConfig, "writer %s: input port 0 has no metadata", w.ID())
	}
	meta := in.Metadata()
	format, err := resolveFormat(w.props, meta, w.fileURL)
	if err != nil {
		return err
	}
	opts, err := parserOptions(w.props, format)
	if err != nil {
		return err
	}
	opts.Logger = w.Logger()
	w.format = format
	w.formatter = newFormatter(format, opts, w.props)
	return w.formatter.Init(meta)
}

// Execute writes every input record, then the footer
func (w *Writer) Execute(ctx context.Context) (res graph.Result) {
	fsys, release, err := w.Env().FS.Acquire(ctx, w.fileURL)
	if err != nil {
		return graph.Finished(err)
	}
	defer release()
	loc, err := fs.Parse(w.fileURL)
	if err != nil {
		return graph.Finished(err)
	}
	dst, err := fsys.Create(ctx, loc.Path)
	if err != nil {
		return graph.Finished(err)
	}
	defer func() {
		if cerr := dst.Close(); cerr != nil && res.Code == graph.ResultFinishedOK {
			res = graph.Finished(errors.Wrap(cerr, errors.ErrorTypeIO, "failed to close output").WithDetail("url", w.fileURL))
		}
	}()

	alg, err := compressionFor(w.props, w.fileURL)
	if err != nil {
		return graph.Finished(err)
	}
	var target io.Writer = dst
	if alg != compression.None {
		cw, err := compression.NewWriter(dst, alg, w.level)
		if err != nil {
			return graph.Finished(err)
		}
		defer func() {
			if cerr := cw.Close(); cerr != nil && res.Code == graph.ResultFinishedOK {
				res = graph.Finished(errors.Wrap(cerr, errors.ErrorTypeIO, "failed to finish compressed output"))
			}
		}()
		target = cw
	}

	if f, ok := w.formatter.(*dbf.Formatter); ok {
		closeMemo, err := w.attachMemo(ctx, f)
		if err != nil {
			return graph.Finished(err)
		}
		defer closeMemo()
	}

	if err := w.formatter.SetDataTarget(target); err != nil {
		return graph.Finished(err)
	}
	if _, err := w.formatter.WriteHeader(); err != nil {
		return graph.Finished(err)
	}

	policy := token.NewOneToOne(w.Tracker())
	in := w.InputPort(0)
	written := 0
	for w.Running(ctx) {
		t, err := in.Read(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return graph.Finished(err)
		}
		if _, err := w.formatter.Write(t.Record()); err != nil {
			return graph.Finished(err)
		}
		if err := policy.Read(0, t); err != nil {
			return graph.Finished(err)
		}
		t.Record().Release()
		written++
	}
	if err := ctx.Err(); err != nil {
		return graph.Finished(errors.Wrap(err, errors.ErrorTypeCanceled, "writer stopped"))
	}

	if _, err := w.formatter.WriteFooter(); err != nil {
		return graph.Finished(err)
	}
	if err := w.formatter.Flush(); err != nil {
		return graph.Finished(err)
	}
	if err := w.formatter.Close(); err != nil {
		return graph.Finished(err)
	}
	w.Logger().Info("output written",
		zap.String("file", w.fileURL),
		zap.String("format", w.format),
		zap.Int("records", written))
	return graph.OK()
}

// attachMemo creates the memo file of a table with memo fields. Memo files
// are written in place, so the target must be seekable.
func (w *Writer) attachMemo(ctx context.Context, f *dbf.Formatter) (func(), error) {
	h := f.Header()
	if !h.HasMemoFields() {
		return func() {}, nil
	}
	memoURL := w.memoURL
	if memoURL == "" {
		memoURL = dbf.MemoPath(w.fileURL, h.Type)
	}
	kind, ok := dbf.MemoKindForPath(memoURL)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "writer %s: cannot tell memo layout of %s", w.ID(), memoURL)
	}
	blockSize, err := w.props.Int("memo_block_size", 0)
	if err != nil {
		return nil, err
	}

	fsys, release, err := w.Env().FS.Acquire(ctx, memoURL)
	if err != nil {
		return nil, err
	}
	loc, err := fs.Parse(memoURL)
	if err != nil {
		release()
		return nil, err
	}
	wc, err := fsys.Create(ctx, loc.Path)
	if err != nil {
		release()
		return nil, err
	}
	closeAll := func() {
		if err := wc.Close(); err != nil {
			w.Logger().Warn("failed to close memo file", zap.String("memo", memoURL), zap.Error(err))
		}
		release()
	}
	ws, ok := wc.(io.WriteSeeker)
	if !ok {
		closeAll()
		return nil, errors.Newf(errors.ErrorTypeCapability, "writer %s: memo target %s is not seekable", w.ID(), memoURL)
	}
	mw, err := dbf.NewMemoWriter(ws, kind, blockSize)
	if err != nil {
		closeAll()
		return nil, err
	}
	f.SetMemoWriter(mw)
	return closeAll, nil
}
