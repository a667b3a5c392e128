// Package stores provides the persistence layer of ecsroll.
//
// FileStore checkpoints a rolling-upgrade campaign as one JSON file per
// cluster, written atomically after every state change. HistoryStore is an
// append-only SQLite journal of node transitions across campaigns, with its
// schema managed by embedded migrations.
package stores
