// Package vectorstore defines the vector store boundary and the backoff
// envelope applied to every call that crosses it.
//
// Backends live in sub-packages:
//
//   - vectorstore/qdrant: Qdrant over gRPC, the default remote store
//   - vectorstore/pgvector: PostgreSQL with the pgvector extension
//   - vectorstore/badger: embedded Badger store for local runs
//   - vectorstore/mock: in-memory store with fault injection for tests
//
// Callers normally wrap a backend in BackoffStore so that existence checks,
// inserts, collection creation and counts are retried with exponential
// backoff before a failure reaches the ingestion worker.
package vectorstore
