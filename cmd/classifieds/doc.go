// Package main hosts the classifieds crawler entrypoint.
//
// Architecture overview:
//   - Catalog: categories group addresses (listing URLs on OLX, Gumtree or Vinted). Each run of an address is a
//     search; every listing seen is reconciled into the item catalog keyed by URL, with an append-only history of
//     title and price changes and one search result per observation.
//   - Fetch pipeline: the paginate driver fetches page 1 through the shared Colly fetcher, asks the site parser for
//     the page count, fetches the remaining pages concurrently and parses every listing with goquery (OLX, Gumtree)
//     or gjson (Vinted). Any failed page aborts the address; unparseable listings are dropped and counted.
//   - Orchestration: a category run executes its addresses with bounded concurrency, writes each address's items
//     and the finished flag in one transaction (a savepoint per item), and sends one notification with the number of
//     items found across the category.
//   - Scheduling: categories with a search frequency get a cron entry that submits run requests to a bounded queue
//     drained by a fixed worker pool; POST /v1/categories/{id}/runs submits on demand.
//   - Persistence: Postgres via pgx (schema managed by golang-migrate) or an in-memory store; item URL locks are
//     in-process or Redis-backed; fetched pages may be archived to a local directory or GCS; notifications go to the
//     log or a Pub/Sub topic.
//
// Commands:
//   - serve: HTTP API, scheduler and workers until SIGINT/SIGTERM.
//   - search --category ID: run one category in the foreground and print the summary.
//   - seed: upsert the categories and addresses listed in the config file.
//   - migrate: apply the embedded Postgres migrations.
//
// Configuration is read by Viper from --config and CLASSIFIEDS_* environment variables (for example
// CLASSIFIEDS_STORE_DSN or CLASSIFIEDS_SERVER_PORT).
package main
