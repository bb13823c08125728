package sqlite

// Schema creates the attendance table. The unique (identity, attendance_date)
// key is what makes Record atomic.
const Schema = `
CREATE TABLE IF NOT EXISTS attendance (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    identity TEXT NOT NULL,
    attendance_date TEXT NOT NULL,
    marked_at TEXT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('Present', 'Late')),
    UNIQUE (identity, attendance_date)
);

CREATE INDEX IF NOT EXISTS idx_attendance_date ON attendance(attendance_date, marked_at);
`
