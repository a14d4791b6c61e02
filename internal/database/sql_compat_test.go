package database

import "testing"

func TestConvertPlaceholdersFollowsActiveDriver(t *testing.T) {
	t.Cleanup(func() { setActiveDriver("") })

	query := "SELECT * FROM notes WHERE id = $1 AND author_id = $2"

	setActiveDriver("postgres")
	if got := ConvertPlaceholders(query); got != query {
		t.Fatalf("postgres queries must keep $n placeholders, got %q", got)
	}

	setActiveDriver("mysql")
	if got := ConvertPlaceholders(query); got != "SELECT * FROM notes WHERE id = ? AND author_id = ?" {
		t.Fatalf("mysql queries must use ? placeholders, got %q", got)
	}
}

func TestActiveDriverWinsOverTestEnv(t *testing.T) {
	t.Cleanup(func() { setActiveDriver("") })

	t.Setenv("TEST_DB_DRIVER", "mysql")
	setActiveDriver("postgres")
	if !IsPostgreSQL() {
		t.Fatal("connection driver must take precedence over the test env var")
	}
}

func TestGetDBDriverFallsBackToTestEnv(t *testing.T) {
	t.Cleanup(func() { setActiveDriver("") })

	setActiveDriver("")
	t.Setenv("TEST_DB_DRIVER", "postgres")
	if got := GetDBDriver(); got != "postgres" {
		t.Fatalf("GetDBDriver() = %q, want postgres", got)
	}
}
