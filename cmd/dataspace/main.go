// Command dataspace persists a JSON batch of entity changes through the
// engine, using the backend selected by the environment (see
// DATASPACE_STORAGE_DRIVER). It reads an array of changes from stdin and
// writes the resulting batch to stdout:
//
//	echo '[{"type":"order","state":"added","doc":{"total":5}}]' | dataspace
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"

	"dataspace/internal/core"
	"dataspace/internal/infra/persistence/document"
	"dataspace/pkg/domain"
)

type change struct {
	Type  string         `json:"type"`
	State string         `json:"state"`
	Doc   map[string]any `json:"doc"`
}

type result struct {
	Type       string         `json:"type"`
	State      string         `json:"state"`
	OriginalID string         `json:"original_id,omitempty"`
	Doc        map[string]any `json:"doc,omitempty"`
}

func main() {
	store := flag.String("store", "default", "store name all entity types resolve to")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(context.Background(), logger, *store, os.Stdin, os.Stdout); err != nil {
		logger.Error("persist failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, store string, in io.Reader, out io.Writer) error {
	payload, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	var changes []change
	if err := json.Unmarshal(payload, &changes); err != nil {
		return fmt.Errorf("decode input: %w", err)
	}

	driver, err := core.OpenDriver(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = driver.Close() }()

	registry := core.NewCommandRegistry()
	sessionType := reflect.TypeOf((*document.Session)(nil))
	if err := registry.Register(core.CommandPersistSet, sessionType, 0, false, document.NewPersistCommand(logger)); err != nil {
		return err
	}
	factory := core.NewDispatchingFactory(
		document.NewFactory(nil, driver, logger, core.NewExpvarMetricsRecorder("")),
		registry,
	)
	deps := core.Dependencies{
		Resolver: domain.ResolverFunc(func(string, domain.OperationContext) (string, error) {
			return store, nil
		}),
		Factory:   factory,
		Converter: core.NewPropertyConverter(nil),
		Logger:    logger,
	}

	batch := make([]domain.Envelope, 0, len(changes))
	for _, c := range changes {
		state := domain.ChangeState(c.State)
		if !state.Valid() {
			return fmt.Errorf("invalid change state %q", c.State)
		}
		batch = append(batch, domain.Envelope{
			EntityTypeName: c.Type,
			ChangeState:    state,
			Entity:         domain.NewMapEntity(c.Type, c.Doc),
		})
	}

	response, err := core.NewPipeline(deps).PersistBatch(ctx, batch)
	if err != nil {
		return err
	}

	results := make([]result, 0, len(response))
	for _, env := range response {
		r := result{
			Type:       env.EntityTypeName,
			State:      string(env.ChangeState),
			OriginalID: env.OriginalEntityID,
		}
		if env.Entity != nil {
			r.Doc = domain.SnapshotProperties(env.Entity)
		}
		results = append(results, r)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}
