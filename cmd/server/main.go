/*
main.go - Application entry point

PURPOSE:
  Starts the timeslots HTTP service, or prints a slot sequence.

STARTUP SEQUENCE (serve):
  1. Load config (file, .env, environment, then flags)
  2. Build the zap logger
  3. Open the SQLite store (migrations run here) and seed it
  4. Configure the chi router
  5. Start the server; watch the config file for log level changes
  6. Shut down gracefully on SIGINT/SIGTERM

COMMANDS:
  serve   Run the HTTP service (default)
  slots   Print the slots of a range as a JSON array

EXAMPLES:
  # In-memory store, default seed
  ./server

  # File database on another port
  ./server serve -db=./data/slots.db -port=3000

  # Generate slots without a server
  ./server slots --start=2016-01-01T07:00:00+11:00 --end=2016-01-01T08:00:00+11:00 --interval=10m

SEE ALSO:
  - config/config.go: Configuration sources
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
