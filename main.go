// Command caseflowd is a small CLI harness around the workflow engine:
// install a declarative workflow document, create an instance against a
// document, start it, and print the root course's resulting state. There is no HTTP surface here (spec.md's Non-goals exclude a REST
// API) — the engine is meant to be embedded, and this binary exists to
// exercise that embedding end to end against a real Postgres store when
// DATABASE_URL is set, or an in-memory one otherwise.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/caseflow/engine/pkg/config"
	"github.com/caseflow/engine/pkg/db"
	"github.com/caseflow/engine/pkg/wfdoc"
	"github.com/caseflow/engine/services/callables"
	"github.com/caseflow/engine/services/handlers"
	"github.com/caseflow/engine/services/install"
	"github.com/caseflow/engine/services/runner"
	"github.com/caseflow/engine/services/store"
	"github.com/caseflow/engine/services/wfinstance"
)

func main() {
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(logHandler))

	ctx := context.Background()

	if len(os.Args) < 3 {
		slog.Error("usage: caseflowd <workflow-document.json> <install|demo>")
		os.Exit(1)
	}
	docPath, mode := os.Args[1], os.Args[2]

	raw, err := os.ReadFile(docPath)
	if err != nil {
		slog.Error("failed to read workflow document", "path", docPath, "error", err)
		os.Exit(1)
	}

	types := install.NewDocumentTypes().RegisterDocument("application")

	st, closeStore := mustStore(ctx, types)
	defer closeStore()

	spec, err := install.Install(raw, types)
	if err != nil {
		slog.Error("install failed", "error", err)
		os.Exit(1)
	}
	if err := st.SaveSpec(ctx, spec, raw); err != nil {
		slog.Error("save spec failed", "error", err)
		os.Exit(1)
	}
	slog.Info("installed workflow", "code", spec.Code, "name", spec.Name)

	if mode == "install" {
		return
	}

	registry := callables.NewRegistry()
	handlers.RegisterWeatherCheck(registry, "weather.checkFreezing", 0)
	handlers.RegisterEmailNotice(registry, "email.notifyApplicant", "notices@example.com")
	eng := runner.New(registry, config.DefaultEngineConfig())

	doc := wfdoc.Ref{DocType: "application", DocID: "demo-1"}
	user := demoUser{}

	inst, err := eng.Create(ctx, spec, user, doc)
	if err != nil {
		slog.Error("create failed", "error", err)
		os.Exit(1)
	}
	if err := st.CreateInstance(ctx, inst); err != nil {
		slog.Error("persist instance failed", "error", err)
		os.Exit(1)
	}

	err = st.WithInstance(ctx, inst.ID, func(ctx context.Context, loaded *wfinstance.WorkflowInstance) error {
		return eng.Start(ctx, loaded, user, "")
	})
	if err != nil {
		slog.Error("start failed", "error", err)
		os.Exit(1)
	}

	printStatus(ctx, inst.ID, st)

	if _, err := eng.Get(ctx, st, doc.Type(), doc.ID()); err != nil {
		slog.Error("get by document failed", "error", err)
		os.Exit(1)
	}
}

func printStatus(ctx context.Context, id uuid.UUID, st store.Store) {
	_ = st.WithInstance(ctx, id, func(_ context.Context, inst *wfinstance.WorkflowInstance) error {
		b, _ := json.MarshalIndent(summarize(inst.Root), "", "  ")
		fmt.Println(string(b))
		return nil
	})
}

func summarize(c *wfinstance.CourseInstance) any {
	out := map[string]any{"pending": wfinstance.IsPending(c)}
	if c.Current != nil {
		out["node"] = c.Current.Spec.Code
		out["kind"] = string(c.Current.Spec.Type)
	}
	return out
}

type demoUser struct{}

func (demoUser) HasPermission(context.Context, string, wfdoc.Document) bool { return true }

func mustStore(ctx context.Context, types *install.DocumentTypes) (store.Store, func()) {
	uri, ok := os.LookupEnv("DATABASE_URL")
	if !ok {
		slog.Info("DATABASE_URL not set, using in-memory store")
		return store.NewMemStore(types), func() {}
	}

	pool, err := db.Connect(ctx, db.DefaultConfig(uri))
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	pg := store.NewPostgresStore(pool, types)
	schemaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pg.EnsureSchema(schemaCtx); err != nil {
		slog.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}
	return pg, pool.Close
}
