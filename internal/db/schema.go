package db

import "fmt"

// SchemaSQL returns the schema initialization SQL. The HNSW index dimension
// is parameterized so it always matches the configured embedding model.
func SchemaSQL(embedDimension int) string {
	return fmt.Sprintf(`
    -- ==========================================================================
    -- MEMORY_ITEM TABLE (similarity index)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS memory_item SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS item_type ON memory_item TYPE string
        ASSERT $value IN ["requirement", "story"];
    DEFINE FIELD IF NOT EXISTS source ON memory_item TYPE string;
    DEFINE FIELD IF NOT EXISTS content ON memory_item TYPE string;
    DEFINE FIELD IF NOT EXISTS metadata ON memory_item TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS embedding ON memory_item TYPE array<float>;
    DEFINE FIELD IF NOT EXISTS created ON memory_item TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS memory_item_type ON memory_item FIELDS item_type;
    DEFINE INDEX IF NOT EXISTS memory_item_source ON memory_item FIELDS source;
    DEFINE INDEX IF NOT EXISTS memory_item_embedding ON memory_item
        FIELDS embedding HNSW DIMENSION %d DIST COSINE TYPE F32;

    -- ==========================================================================
    -- CHECKPOINT TABLE (latest workflow state per thread, overwritten)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS checkpoint SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS state ON checkpoint TYPE string;
    DEFINE FIELD IF NOT EXISTS updated ON checkpoint TYPE datetime DEFAULT time::now();
`, embedDimension)
}
