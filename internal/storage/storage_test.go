package storage

import (
	"context"
	"path/filepath"
	"testing"

	"tutorchat/internal/config"
	"tutorchat/internal/models"
)

func openTestDB(t *testing.T) *TranscriptStore {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: filepath.Join(t.TempDir(), "test.db")},
		},
	}
	db, err := Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewTranscriptStore(db)
}

func TestAppendAndList(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	if _, err := store.Append(ctx, "s1", models.SenderUser, "question one"); err != nil {
		t.Fatalf("append user: %v", err)
	}
	if _, err := store.Append(ctx, "s1", models.SenderAssistant, "answer one"); err != nil {
		t.Fatalf("append assistant: %v", err)
	}
	if _, err := store.Append(ctx, "s2", models.SenderUser, "other session"); err != nil {
		t.Fatalf("append other session: %v", err)
	}

	transcripts, err := store.List(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(transcripts) != 2 {
		t.Fatalf("expected 2 transcripts, got %d", len(transcripts))
	}
	if transcripts[0].Sender != models.SenderUser || transcripts[0].Text != "question one" {
		t.Errorf("unexpected first transcript: %+v", transcripts[0])
	}
	if transcripts[1].Sender != models.SenderAssistant {
		t.Errorf("expected assistant second, got %s", transcripts[1].Sender)
	}
}

func TestListRespectsLimit(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := store.Append(ctx, "s1", models.SenderUser, "msg"); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	transcripts, err := store.List(ctx, "s1", 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(transcripts) != 3 {
		t.Fatalf("expected 3 transcripts, got %d", len(transcripts))
	}
}

func TestAppendRequiresSessionID(t *testing.T) {
	store := openTestDB(t)
	if _, err := store.Append(context.Background(), "  ", models.SenderUser, "text"); err == nil {
		t.Fatal("expected error for blank session id")
	}
}

func TestCountAndDeleteSession(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.Append(ctx, "s1", models.SenderUser, "msg"); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	n, err := store.Count(ctx, "s1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected count 3, got %d", n)
	}

	if err := store.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	n, err = store.Count(ctx, "s1")
	if err != nil {
		t.Fatalf("count after delete: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected empty session, got %d", n)
	}
}

func TestMysqlDSNForcesParseTime(t *testing.T) {
	base := config.DatabaseConfig{
		Username: "u", Password: "p", Host: "db", Port: 3306, DBName: "tutorchat",
	}

	dsn := mysqlDSN(base)
	if dsn != "u:p@tcp(db:3306)/tutorchat?parseTime=true" {
		t.Errorf("unexpected dsn %q", dsn)
	}

	base.Params = "charset=utf8mb4"
	dsn = mysqlDSN(base)
	if dsn != "u:p@tcp(db:3306)/tutorchat?charset=utf8mb4&parseTime=true" {
		t.Errorf("unexpected dsn %q", dsn)
	}

	base.Params = "parseTime=true&charset=utf8mb4"
	dsn = mysqlDSN(base)
	if dsn != "u:p@tcp(db:3306)/tutorchat?parseTime=true&charset=utf8mb4" {
		t.Errorf("parseTime must not be duplicated: %q", dsn)
	}
}

func TestListEmptySession(t *testing.T) {
	store := openTestDB(t)
	transcripts, err := store.List(context.Background(), "missing", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(transcripts) != 0 {
		t.Fatalf("expected no transcripts, got %d", len(transcripts))
	}
}
