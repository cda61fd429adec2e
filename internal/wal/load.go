package wal

import (
	"bufio"
	"encoding/json"
	"os"

	"github.com/rs/zerolog/log"
)

// Load replays the log from the beginning, invoking apply for every entry in
// commit order. Malformed lines are skipped, not fatal; a torn final write
// must not keep the store from coming up.
func (m *Manager) Load(apply func(*Entry)) error {
	file, err := os.Open(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			// no WAL yet, nothing to replay
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			log.Warn().Err(err).Msg("skipping malformed WAL entry")
			continue
		}
		apply(&entry)
	}

	return scanner.Err()
}
