package postgres

// migrationCentroidVec adds a pgvector copy of each centroid to the clusters
// table. It is applied outside the numbered migrations and only when the
// vector extension could be created, so servers without pgvector keep
// working from the BYTEA column alone.
const migrationCentroidVec = `
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'clusters' AND column_name = 'centroid_vec'
    ) THEN
        ALTER TABLE clusters ADD COLUMN centroid_vec vector;
    END IF;
END
$$;
`
