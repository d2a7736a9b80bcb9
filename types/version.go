package types

// Version is the canonical project version.
// The CLI, the archive record layout and the event stream share this version.
const Version = "0.3.0"
