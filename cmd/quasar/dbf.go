package main

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/quasar/pkg/dbf"
	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/fs"
	"github.com/ajitpratap0/quasar/pkg/json"
	"github.com/ajitpratap0/quasar/pkg/logger"
	"github.com/ajitpratap0/quasar/pkg/metadata"
	"github.com/ajitpratap0/quasar/pkg/parser"
	"github.com/ajitpratap0/quasar/pkg/record"
)

func newAnalyzeCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "analyze-dbf <file>",
		Short: "Print the header and field directory of a DBF table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := analyzeTable(cmd.Context(), fs.NewRegistry(logger.Get()), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !asJSON {
				_, err = io.WriteString(out, info.String())
				return err
			}
			data, err := json.MarshalIndent(tableReport(info, args[0]), "", "  ")
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode table info")
			}
			_, err = fmt.Fprintln(out, string(data))
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON including the derived record metadata")
	return cmd
}

type fieldReport struct {
	dbf.FieldDescriptor
	Type string `json:"type"`
}

// tableReport is the --json form of analyze-dbf: the table summary with
// field type letters and the record metadata a reader would derive
func tableReport(info *dbf.TableInfo, url string) interface{} {
	fields := make([]fieldReport, len(info.Fields))
	for i, f := range info.Fields {
		fields[i] = fieldReport{FieldDescriptor: f, Type: f.TypeCode()}
	}
	return struct {
		*dbf.TableInfo
		Fields   []fieldReport      `json:"fields"`
		Metadata *metadata.Metadata `json:"metadata"`
	}{info, fields, info.Metadata(dbf.TableName(url))}
}

func analyzeTable(ctx context.Context, files *fs.Registry, url string) (*dbf.TableInfo, error) {
	r, err := files.Open(ctx, url)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return dbf.Analyze(r)
}

func newDumpCommand() *cobra.Command {
	var limit int
	var deleted, asArray bool
	cmd := &cobra.Command{
		Use:   "dump-dbf <file>",
		Short: "Print the rows of a DBF table as JSON",
		Long: `Print the rows of a DBF table as JSON lines, or as one array with --array.
The record layout is derived from the table header. Memo fields are read
from the companion .dbt or .fpt file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files := fs.NewRegistry(logger.Get())
			enc := json.NewStreamingEncoder(cmd.OutOrStdout(), asArray)
			if err := dumpTable(cmd.Context(), files, args[0], deleted, limit, enc); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Stop after this many rows (0 prints all)")
	cmd.Flags().BoolVar(&deleted, "deleted", false, "Include rows flagged as deleted")
	cmd.Flags().BoolVar(&asArray, "array", false, "Print one JSON array instead of JSON lines")
	return cmd
}

func dumpTable(ctx context.Context, files *fs.Registry, url string, deleted bool, limit int, enc *json.StreamingEncoder) error {
	r, err := files.Open(ctx, url)
	if err != nil {
		return err
	}
	defer r.Close()

	p := dbf.NewParser(parser.Options{Logger: logger.Get()})
	p.IncludeDeleted(deleted)
	if err := p.Init(nil); err != nil {
		return err
	}
	defer p.Close()
	if err := p.SetDataSource(r, url); err != nil {
		return err
	}
	if p.Header().HasMemoFields() {
		memo, err := openMemo(ctx, files, dbf.MemoPath(url, p.Header().Type))
		if err != nil {
			return err
		}
		p.SetMemoReader(memo)
	}

	rec := record.New(p.Metadata())
	for n := 0; limit <= 0 || n < limit; n++ {
		got, err := p.GetNext(rec)
		if err != nil {
			return err
		}
		if got == nil {
			break
		}
		if err := enc.EncodeRecord(got); err != nil {
			return err
		}
	}
	logger.Get().Debug("table dumped", zap.String("file", url), zap.Int64("rows", p.RecordCount()))
	return nil
}

// openMemo reads the memo file into memory since remote streams offer no
// random access
func openMemo(ctx context.Context, files *fs.Registry, url string) (dbf.MemoReader, error) {
	kind, ok := dbf.MemoKindForPath(url)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown memo file type: %s", url)
	}
	r, err := files.Open(ctx, url)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "failed to read memo file").WithDetail("path", url)
	}
	return dbf.NewMemoReader(bytes.NewReader(data), kind)
}
