package servers

// schema contains all table definitions. Each statement is idempotent (CREATE IF NOT EXISTS).
const schema = `
CREATE TABLE IF NOT EXISTS servers (
    name       TEXT    PRIMARY KEY,
    domain     TEXT    NOT NULL,
    entry_ip   TEXT    NOT NULL,
    label      TEXT    NOT NULL DEFAULT '',
    tcp_ports  TEXT    NOT NULL DEFAULT '',
    udp_ports  TEXT    NOT NULL DEFAULT '',
    load       INTEGER NOT NULL DEFAULT 0,
    tier       INTEGER NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
);

CREATE TABLE IF NOT EXISTS registrations (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    server      TEXT    NOT NULL,
    protocol    TEXT    NOT NULL,
    uuid        TEXT    NOT NULL,
    object_path TEXT    NOT NULL DEFAULT '',
    error       TEXT    NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_registrations_server
    ON registrations (server, created_at);
`
