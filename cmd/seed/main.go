package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"log/slog"
	"os"

	"arbor/internal/config"
	"arbor/internal/repository/postgres"
	"arbor/internal/session"
	"arbor/internal/snapshot"
	"arbor/internal/tree"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

// Seeds the snapshot archive with a demo branching conversation so a
// fresh database has something to restore from.
func main() {
	dropTables := flag.Bool("drop-tables", false, "Drop archive tables before seeding (fresh start)")
	schemaOnly := flag.Bool("schema-only", false, "Only set up schema, don't seed snapshots")
	flag.Parse()

	// Load .env file
	_ = godotenv.Load()

	// Load configuration
	cfg := config.Load()

	// SAFETY: Prevent destructive operations in production
	if cfg.Environment == "prod" && *dropTables {
		log.Fatalf("🚫 BLOCKED: Cannot run --drop-tables in production environment")
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required for seeding")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	log.Printf("🌱 Seeding snapshot archive (environment: %s, prefix: %s)", cfg.Environment, cfg.TablePrefix)

	ctx := context.Background()
	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	tables := postgres.NewTableNames(cfg.TablePrefix)

	if *dropTables {
		log.Println("🗑️  Dropping archive tables...")
		if err := dropArchiveTables(ctx, pool, tables); err != nil {
			log.Fatalf("Failed to drop tables: %v", err)
		}
		log.Println("✅ Tables dropped")
	}

	archive := postgres.NewSnapshotArchive(&postgres.RepositoryConfig{
		Pool:   pool,
		Tables: tables,
		Logger: logger,
	})

	log.Println("📋 Ensuring archive schema is up to date...")
	if err := archive.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to run schema: %v", err)
	}
	log.Println("✅ Schema ready")

	if *schemaOnly {
		log.Println("✅ Schema setup complete (schema-only mode)")
		return
	}

	sess := buildDemoSession()
	snap := sess.Export()
	body, err := json.Marshal(snap)
	if err != nil {
		log.Fatalf("Failed to encode snapshot: %v", err)
	}

	record, err := archive.Save(ctx, sess.ID, sess.Title(), body)
	if err != nil {
		log.Fatalf("Failed to archive snapshot: %v", err)
	}

	log.Printf("✅ Archived demo snapshot %s (%d nodes)", record.ID, snapNodeCount(snap))
	log.Println("🎉 Seeding complete!")
}

// buildDemoSession assembles a small conversation with one edited
// branch, so a restored session demonstrates branching immediately.
func buildDemoSession() *session.Session {
	sess := session.New("Demo: branching conversation")

	sess.Mutate(func(s *tree.Store) {
		s.CreateSystemMessage("You are a concise writing assistant.")

		userID := s.CreateUserAfter(nil, tree.Text("Give me a one-line story opening about a lighthouse."))

		first, err := s.CreateAssistantAfter(userID)
		if err != nil {
			log.Fatalf("Failed to build demo tree: %v", err)
		}
		s.SetNodeContent(first, tree.Text("The lighthouse had been dark for forty years when the light came back on."), nil)
		s.SetNodeStatus(first, tree.StatusFinal)

		// Edit the reply to create a sibling branch
		if _, ok := s.ReplaceNodeWithEditedClone(first, tree.EditPatch{
			Content: tree.Text("No ship had passed the lighthouse in forty years, and yet someone kept it lit."),
		}); !ok {
			log.Fatal("Failed to build demo branch")
		}
	})

	return sess
}

func snapNodeCount(snap snapshot.Snapshot) int {
	return len(snap.Tree.Nodes)
}

// dropArchiveTables drops the archive table and its indexes
func dropArchiveTables(ctx context.Context, pool *pgxpool.Pool, tables *postgres.TableNames) error {
	dropSQL := "DROP TABLE IF EXISTS " + tables.Snapshots + " CASCADE"
	if _, err := pool.Exec(ctx, dropSQL); err != nil {
		return err
	}
	log.Printf("  ✓ Dropped %s", tables.Snapshots)
	return nil
}
