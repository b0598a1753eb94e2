package components

import (
	"bytes"
	"context"
	"io"
	"strconv"

	"go.uber.org/zap"

	"github.com/ajitpratap0/quasar/pkg/compression"
	"github.com/ajitpratap0/quasar/pkg/dbf"
	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/fs"
	"github.com/ajitpratap0/quasar/pkg/graph"
	"github.com/ajitpratap0/quasar/pkg/metadata"
	"github.com/ajitpratap0/quasar/pkg/parser"
	"github.com/ajitpratap0/quasar/pkg/record"
	"github.com/ajitpratap0/quasar/pkg/token"
)

// Reject port fields filled in when the reject metadata declares them
const (
	RejectRecordNumberField = "record_number"
	RejectErrorField        = "error_message"
)

// Reader parses a file into records on port 0. Records rejected under the
// controlled data policy go to port 1 when it is connected.
type Reader struct {
	*graph.BaseNode
	fileURL        string
	memoURL        string
	format         string
	policy         parser.DataPolicy
	skip           int
	max            int
	maxRejected    int
	includeDeleted bool
	props          graph.Properties

	meta   *metadata.Metadata
	parser parser.Parser
}

// NewReader is the factory of the reader component
func NewReader(id string, props graph.Properties) (graph.Node, error) {
	fileURL, err := props.Required("file_url")
	if err != nil {
		return nil, err
	}
	policy, err := parser.ParseDataPolicy(props.String("data_policy", ""))
	if err != nil {
		return nil, err
	}
	r := &Reader{
		BaseNode: graph.NewBaseNode(id, TypeReader, graph.PortSpec{MinOutputs: 1, MaxOutputs: 2}),
		fileURL:  fileURL,
		memoURL:  props.String("memo_url", ""),
		policy:   policy,
		props:    props,
	}
	if r.skip, err = props.Int("skip_rows", 0); err != nil {
		return nil, err
	}
	if r.max, err = props.Int("max_rows", 0); err != nil {
		return nil, err
	}
	if r.maxRejected, err = props.Int("max_rejected", parser.DefaultMaxRejected); err != nil {
		return nil, err
	}
	if r.includeDeleted, err = props.Bool("include_deleted", false); err != nil {
		return nil, err
	}
	if r.skip < 0 || r.max < 0 {
		return nil, errors.Newf(errors.ErrorTypeConfig, "reader %s: skip_rows and max_rows must not be negative", id)
	}
	return r, nil
}

// Init resolves the output metadata and prepares the parser
func (r *Reader) Init(ctx context.Context, env *graph.Env) error {
	out := r.OutputPort(0)
	if out == nil || out.Metadata() == nil {
		return errors.Newf(errors.ErrorTypeConfig, "reader %s: output port 0 has no metadata", r.ID())
	}
	r.meta = out.Metadata()

	format, err := resolveFormat(r.props, r.meta, r.fileURL)
	if err != nil {
		return err
	}
	opts, err := parserOptions(r.props, format)
	if err != nil {
		return err
	}
	opts.Logger = r.Logger()
	r.format = format
	r.parser = newParser(format, opts)
	if p, ok := r.parser.(*dbf.Parser); ok {
		p.IncludeDeleted(r.includeDeleted)
	}
	return r.parser.Init(r.meta)
}

// Execute reads until end of input, max_rows or cancellation
func (r *Reader) Execute(ctx context.Context) (res graph.Result) {
	fsys, release, err := r.Env().FS.Acquire(ctx, r.fileURL)
	if err != nil {
		return graph.Finished(err)
	}
	defer release()
	loc, err := fs.Parse(r.fileURL)
	if err != nil {
		return graph.Finished(err)
	}
	src, err := fsys.Open(ctx, loc.Path)
	if err != nil {
		return graph.Finished(err)
	}
	defer src.Close()

	alg, err := compressionFor(r.props, r.fileURL)
	if err != nil {
		return graph.Finished(err)
	}
	in, err := compression.NewReader(src, alg)
	if err != nil {
		return graph.Finished(err)
	}
	defer in.Close()

	handler := parser.NewExceptionHandler(r.policy, r.Logger())
	handler.SetMaxRejected(r.maxRejected)
	r.parser.SetExceptionHandler(handler)
	if err := r.parser.SetDataSource(in, r.fileURL); err != nil {
		return graph.Finished(err)
	}
	defer func() {
		if err := r.parser.Close(); err != nil && res.Code == graph.ResultFinishedOK {
			res = graph.Finished(err)
		}
	}()
	if p, ok := r.parser.(*dbf.Parser); ok {
		closeMemo, err := r.attachMemo(ctx, p)
		if err != nil {
			return graph.Finished(err)
		}
		defer closeMemo()
	}
	if r.skip > 0 {
		skipped, err := r.parser.Skip(r.skip)
		if err != nil {
			return graph.Finished(err)
		}
		r.Logger().Debug("skipped records", zap.Int("requested", r.skip), zap.Int("skipped", skipped))
	}

	policy := token.NewOneToOne(r.Tracker())
	records := record.NewPool(r.meta)
	produced := 0
	for r.max == 0 || produced < r.max {
		if !r.Running(ctx) {
			break
		}
		rec := records.Get()
		got, err := r.parser.GetNext(rec)
		if err != nil {
			rec.Release()
			return graph.Finished(err)
		}
		if err := r.routeRejects(ctx, policy, handler); err != nil {
			rec.Release()
			return graph.Finished(err)
		}
		if got == nil {
			rec.Release()
			break
		}
		t := token.New(got)
		if err := policy.Write(0, t); err != nil {
			return graph.Finished(err)
		}
		if err := r.Emit(ctx, 0, t); err != nil {
			return graph.Finished(err)
		}
		produced++
	}
	r.Logger().Info("input read",
		zap.String("file", r.fileURL),
		zap.String("format", r.format),
		zap.Int("records", produced),
		zap.Int64("rejected", handler.Total()))
	return graph.OK()
}

// routeRejects sends the records rejected so far to port 1. Without a reject
// port they are only counted.
func (r *Reader) routeRejects(ctx context.Context, policy token.Policy, h *parser.ExceptionHandler) error {
	rejected := h.TakeRejected()
	out := r.OutputPort(1)
	if out == nil || len(rejected) == 0 {
		return nil
	}
	for _, rj := range rejected {
		rec := record.New(out.Metadata())
		rec.CopyByName(rj.Record)
		if f := rec.FieldByName(RejectRecordNumberField); f != nil {
			if err := f.FromString(strconv.FormatInt(rj.RecordNumber, 10)); err != nil {
				return err
			}
		}
		if f := rec.FieldByName(RejectErrorField); f != nil && len(rj.Errors) > 0 {
			if err := f.FromString(rj.Errors[0].Error()); err != nil {
				return err
			}
		}
		t := token.New(rec)
		if err := policy.Write(1, t); err != nil {
			return err
		}
		if err := r.Emit(ctx, 1, t); err != nil {
			return err
		}
	}
	return nil
}

// attachMemo opens the memo file of a table with memo fields. The returned
// function closes it.
func (r *Reader) attachMemo(ctx context.Context, p *dbf.Parser) (func(), error) {
	h := p.Header()
	if h == nil || !h.HasMemoFields() {
		return func() {}, nil
	}
	memoURL := r.memoURL
	if memoURL == "" {
		memoURL = dbf.MemoPath(r.fileURL, h.Type)
	}
	kind, ok := dbf.MemoKindForPath(memoURL)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "reader %s: cannot tell memo layout of %s", r.ID(), memoURL)
	}

	fsys, release, err := r.Env().FS.Acquire(ctx, memoURL)
	if err != nil {
		return nil, err
	}
	loc, err := fs.Parse(memoURL)
	if err != nil {
		release()
		return nil, err
	}
	rc, err := fsys.Open(ctx, loc.Path)
	if err != nil {
		release()
		return nil, err
	}
	closeAll := func() {
		_ = rc.Close()
		release()
	}

	ra, ok := rc.(io.ReaderAt)
	if !ok {
		// object stores stream; memo access is random
		data, err := io.ReadAll(rc)
		if err != nil {
			closeAll()
			return nil, errors.Wrap(err, errors.ErrorTypeIO, "failed to read memo file").WithDetail("url", memoURL)
		}
		ra = bytes.NewReader(data)
	}
	mr, err := dbf.NewMemoReader(ra, kind)
	if err != nil {
		closeAll()
		return nil, err
	}
	p.SetMemoReader(mr)
	r.Logger().Debug("memo file attached", zap.String("memo", memoURL))
	return closeAll, nil
}
