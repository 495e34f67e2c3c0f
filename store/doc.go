// Package store holds the credcore.Repository implementations.
//
//   - memstore: in-process, mutex guarded. Tests and single-node demos.
//   - redisstore: go-redis, compare-and-swap through WATCH/MULTI.
//   - pgstore: PostgreSQL over pgxpool, conditional UPDATE/DELETE.
//   - mongostore: MongoDB, filtered UpdateOne/DeleteOne.
//
// storetest is the conformance suite every implementation runs.
package store
