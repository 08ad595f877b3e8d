package legacy

const (
	getExtensionSQL = `SELECT extversion FROM pg_catalog.pg_extension WHERE extname = 'vector'`

	createCollectionSQL = `INSERT INTO collections (name, dimension, embedding_model)
VALUES ($1, $2, $3)
ON CONFLICT (name) DO NOTHING`

	getCollectionSQL = `SELECT dimension, embedding_model FROM collections WHERE name = $1`

	documentExistsSQL = `SELECT EXISTS (
    SELECT 1 FROM speech_documents WHERE collection = $1 AND document_id = $2
)`

	insertDocumentSQL = `INSERT INTO speech_documents (
    collection, document_id, speaker, party, chamber, speech_date, title,
    state, hansard_ref, content_hash, embedding_model, chunk_count
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	updateDocumentSQL = `UPDATE speech_documents
SET speaker = $3, party = $4, chamber = $5, speech_date = $6, title = $7,
    state = $8, hansard_ref = $9, content_hash = $10, embedding_model = $11,
    chunk_count = $12, updated_at = CURRENT_TIMESTAMP
WHERE collection = $1 AND document_id = $2`

	insertChunkSQL = `INSERT INTO speech_chunks (
    collection, document_id, chunk_index, start_offset, char_length, content, embedding, embedding_model
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	deleteChunksSQL = `DELETE FROM speech_chunks WHERE collection = $1 AND document_id = $2`

	deleteDocumentSQL = `DELETE FROM speech_documents WHERE collection = $1 AND document_id = $2`

	getDocumentSQL = `SELECT speaker, party, chamber, speech_date, title, state, hansard_ref,
       content_hash, embedding_model, chunk_count, created_at, updated_at
FROM speech_documents
WHERE collection = $1 AND document_id = $2`

	listChunksSQL = `SELECT chunk_index, start_offset, char_length, content, embedding, embedding_model
FROM speech_chunks
WHERE collection = $1 AND document_id = $2
ORDER BY chunk_index`

	searchChunksSQL = `SELECT c.document_id, c.chunk_index, c.content,
       d.speaker, d.party, d.chamber, d.speech_date, d.title, d.state, d.hansard_ref,
       (c.embedding <=> $1::vector)::float8 AS distance
FROM speech_chunks c
JOIN speech_documents d ON d.collection = c.collection AND d.document_id = c.document_id
WHERE c.collection = $2
  AND ($3::text IS NULL OR d.party = $3::text)
  AND ($4::text IS NULL OR d.chamber = $4::text)
  AND ($5::text IS NULL OR d.speaker = $5::text)
  AND ($6::text IS NULL OR d.state = $6::text)
  AND ($7::date IS NULL OR d.speech_date >= $7::date)
  AND ($8::date IS NULL OR d.speech_date <= $8::date)
ORDER BY distance, c.document_id, c.chunk_index
LIMIT $9`

	collectionStatsSQL = `SELECT
    (SELECT count(*) FROM speech_documents d WHERE d.collection = $1),
    (SELECT count(*) FROM speech_chunks c WHERE c.collection = $1)`
)
