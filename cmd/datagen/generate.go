package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/golang/snappy"
	"github.com/urfave/cli"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"gopkg.in/yaml.v3"

	grpcapi "github.com/datagen/datagen/internal/api/grpc"
	"github.com/datagen/datagen/internal/config"
	"github.com/datagen/datagen/internal/logging"
	"github.com/datagen/datagen/internal/sizing"
	"github.com/datagen/datagen/internal/stream"
	"github.com/datagen/datagen/internal/synth"
	"github.com/datagen/datagen/internal/validation"
	"github.com/datagen/datagen/pkg/types"
)

func generateCommand() cli.Command {
	return cli.Command{
		Name:      "generate",
		Usage:     "Streams one dataset to a file or stdout",
		ArgsUsage: " ",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "type, t", Value: "csv", Usage: "Output format: csv, json or xml"},
			cli.Float64Flag{Name: "size, s", Value: 1, Usage: "Target size in `MB`"},
			cli.StringSliceFlag{Name: "field, f", Usage: "Field as `name:type[:pk]`, repeatable"},
			cli.StringFlag{Name: "schema", Usage: "Load fields from a yaml or json `FILE`"},
			cli.StringFlag{Name: "output, o", Usage: "Write to `FILE` instead of stdout"},
			cli.BoolFlag{Name: "snappy", Usage: "Snappy-frame the output"},
			cli.StringFlag{Name: "server", Usage: "Generate on a running service at gRPC `ADDR`"},
		},
		Action: generate,
	}
}

func generate(c *cli.Context) error {
	toStdout := c.String("output") == ""
	cfg, err := loadConfig(toStdout)
	if err != nil {
		return err
	}
	logger := logging.NewLogger("Generate")

	req, err := buildRequest(c)
	if err != nil {
		return cli.NewExitError(err.Error(), 2)
	}
	req, err = validation.NewValidator(cfg.Generation.MaxFileSizeMB).Validate(req)
	if err != nil {
		return cli.NewExitError(err.Error(), 2)
	}

	out, err := openOutput(c.String("output"), c.Bool("snappy"))
	if err != nil {
		return cli.NewExitError(err.Error(), 3)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	records := sizing.EstimateFor(req.FileSize, req.FileType)
	logger.Infof("generating %d %s records (~%s)", records, req.FileType, sizing.Approx(records, req.FileType))

	if addr := c.String("server"); addr != "" {
		err = generateRemote(ctx, addr, req, out)
	} else {
		err = generateLocal(ctx, cfg, req, out)
	}
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("generation failed: %v", err), 4)
	}
	return nil
}

func generateLocal(ctx context.Context, cfg *config.Config, req types.GenerateRequest, out io.WriteCloser) error {
	sink := stream.NewWriterSink(out, cfg.WriteBufferBytes())
	session, err := stream.NewSession(req, synth.NewSynthesizer(nil), sink, stream.Options{
		FlushEvery:   cfg.Generation.FlushEvery,
		EscapeMarkup: cfg.Generation.EscapeMarkup,
	})
	if err != nil {
		out.Close()
		return err
	}
	if err := session.Run(ctx); err != nil {
		return err
	}
	stats := session.Stats()
	logging.NewLogger("Generate").Infof("wrote %d records, %d bytes in %s", stats.Records, stats.Bytes, stats.Elapsed)
	return nil
}

func generateRemote(ctx context.Context, addr string, req types.GenerateRequest, out io.WriteCloser) error {
	defer out.Close()
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer conn.Close()

	header, n, err := grpcapi.NewClient(conn).Generate(ctx, req, out)
	if err != nil {
		return err
	}
	logging.NewLogger("Generate").Infof("session %s: received %d bytes",
		strings.Join(header.Get(grpcapi.HeaderSessionID), ","), n)
	return nil
}

// buildRequest assembles the request from --schema and --field flags.
func buildRequest(c *cli.Context) (types.GenerateRequest, error) {
	req := types.GenerateRequest{
		FileType: types.FileType(c.String("type")),
		FileSize: c.Float64("size"),
	}
	if path := c.String("schema"); path != "" {
		schema, err := loadSchemaFile(path)
		if err != nil {
			return req, err
		}
		req.Properties = append(req.Properties, schema...)
	}
	for _, spec := range c.StringSlice("field") {
		field, err := parseFieldSpec(spec)
		if err != nil {
			return req, err
		}
		req.Properties = append(req.Properties, field)
	}
	return req, nil
}

// parseFieldSpec parses name:type[:pk].
func parseFieldSpec(spec string) (types.FieldSpec, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return types.FieldSpec{}, fmt.Errorf("field %q must be name:type[:pk]", spec)
	}
	field := types.FieldSpec{
		Name: strings.TrimSpace(parts[0]),
		Type: types.FieldType(strings.ToLower(strings.TrimSpace(parts[1]))),
	}
	if len(parts) == 3 {
		if !strings.EqualFold(parts[2], "pk") {
			return types.FieldSpec{}, fmt.Errorf("field %q: unknown flag %q", spec, parts[2])
		}
		field.PrimaryKey = true
	}
	return field, nil
}

// loadSchemaFile reads a list of fields, either as a top level sequence or
// under a properties key. JSON files parse as yaml.
func loadSchemaFile(path string) (types.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}

	var schema types.Schema
	if err := yaml.Unmarshal(data, &schema); err == nil {
		return schema, nil
	}
	var doc struct {
		Properties types.Schema `yaml:"properties"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse schema file: %w", err)
	}
	return doc.Properties, nil
}

// openOutput opens the destination. Stdout is never closed.
func openOutput(path string, compress bool) (io.WriteCloser, error) {
	var w io.WriteCloser = nopCloser{os.Stdout}
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file: %w", err)
		}
		w = f
	}
	if !compress {
		return w, nil
	}
	return &snappyOutput{Writer: snappy.NewBufferedWriter(w), dst: w}, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

type snappyOutput struct {
	*snappy.Writer
	dst io.Closer
}

func (s *snappyOutput) Close() error {
	if err := s.Writer.Close(); err != nil {
		s.dst.Close()
		return err
	}
	return s.dst.Close()
}
