package infra

import (
	"strings"
	"testing"
)

func TestMigrationFilesAreOrderedAndEmbedded(t *testing.T) {
	files, err := migrationFiles()
	if err != nil {
		t.Fatalf("migration files: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("expected embedded migrations")
	}
	for i := 1; i < len(files); i++ {
		if files[i-1] >= files[i] {
			t.Fatalf("migrations out of order: %s before %s", files[i-1], files[i])
		}
	}

	content, err := migrationsFS.ReadFile("migrations/" + files[0])
	if err != nil {
		t.Fatalf("read %s: %v", files[0], err)
	}
	if !strings.Contains(string(content), "transactions_reference_check") {
		t.Fatal("expected the transaction reference check in the initial schema")
	}
}

func TestNewKafkaWriterWithoutBrokers(t *testing.T) {
	if w := NewKafkaWriter(nil, "topic"); w != nil {
		t.Fatal("expected nil writer without brokers")
	}
	w := NewKafkaWriter([]string{"localhost:9092"}, "pennywise.notifications")
	if w == nil || w.Topic != "pennywise.notifications" {
		t.Fatalf("unexpected writer %+v", w)
	}
}
