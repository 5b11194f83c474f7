package store

// Schema contains the SQL schema. Applied idempotently on first connection;
// every table carries account_id so one database can hold one account or be
// shared multi-tenant.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    email_address TEXT NOT NULL,
    provider TEXT NOT NULL DEFAULT 'imap',
    settings TEXT NOT NULL DEFAULT '{}',
    credentials BLOB,
    sync_policy TEXT NOT NULL DEFAULT '{}',
    sync_error TEXT,
    version INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS folders (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    name TEXT NOT NULL,
    role TEXT,
    sync_state TEXT NOT NULL DEFAULT '{}',
    version INTEGER NOT NULL DEFAULT 0,
    UNIQUE(account_id, name),
    FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS threads (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    remote_thread_id TEXT,
    subject TEXT,
    snippet TEXT,
    participants TEXT NOT NULL DEFAULT '[]',
    unread_count INTEGER NOT NULL DEFAULT 0,
    starred_count INTEGER NOT NULL DEFAULT 0,
    message_count INTEGER NOT NULL DEFAULT 0,
    has_attachments INTEGER NOT NULL DEFAULT 0,
    first_message_date DATETIME,
    last_message_date DATETIME,
    last_message_sent_date DATETIME,
    last_message_received_date DATETIME,
    version INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    thread_id TEXT,
    folder_id TEXT,
    uid INTEGER,
    remote_thread_id TEXT,
    header_message_id TEXT,
    subject TEXT,
    snippet TEXT,
    body TEXT,
    from_participants TEXT NOT NULL DEFAULT '[]',
    to_participants TEXT NOT NULL DEFAULT '[]',
    cc_participants TEXT NOT NULL DEFAULT '[]',
    bcc_participants TEXT NOT NULL DEFAULT '[]',
    date DATETIME NOT NULL,
    unread INTEGER NOT NULL DEFAULT 0,
    starred INTEGER NOT NULL DEFAULT 0,
    is_draft INTEGER NOT NULL DEFAULT 0,
    is_sent INTEGER NOT NULL DEFAULT 0,
    has_attachments INTEGER NOT NULL DEFAULT 0,
    version INTEGER NOT NULL DEFAULT 0,
    UNIQUE(account_id, folder_id, uid),
    FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS transactions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id TEXT NOT NULL,
    event TEXT NOT NULL,
    object TEXT NOT NULL,
    object_id TEXT NOT NULL,
    changed_fields TEXT NOT NULL DEFAULT '[]',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_folders_account_id ON folders(account_id);
CREATE INDEX IF NOT EXISTS idx_threads_account_subject ON threads(account_id, subject);
CREATE INDEX IF NOT EXISTS idx_threads_remote_id ON threads(account_id, remote_thread_id);
CREATE INDEX IF NOT EXISTS idx_messages_thread_id ON messages(thread_id);
CREATE INDEX IF NOT EXISTS idx_messages_folder ON messages(account_id, folder_id);
CREATE INDEX IF NOT EXISTS idx_messages_header_id ON messages(account_id, header_message_id);
CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account_id, id);
`
