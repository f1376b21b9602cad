package testutil

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
	"time"
)

// AuditEntry is one line of the JSON audit log the replication
// Updater writes for refused requests.
type AuditEntry struct {
	Time          time.Time `json:"time"`
	Operation     string    `json:"operation"`
	Requester     string    `json:"requester"`
	ReplicationId string    `json:"replication_id"`
	Role          string    `json:"role"`
	Outcome       string    `json:"outcome"`
	Error         string    `json:"error"`
}

// FindAuditEntries returns the audit entries for replicationId in
// the log at pathToLogFile, oldest first. Lines that are not audit
// entries are skipped. An empty replicationId matches every entry.
func FindAuditEntries(pathToLogFile, replicationId string) ([]*AuditEntry, error) {
	file, err := os.Open(pathToLogFile)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	entries := make([]*AuditEntry, 0)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "{") {
			continue
		}
		entry := &AuditEntry{}
		if json.Unmarshal([]byte(line), entry) != nil || entry.Operation == "" {
			continue
		}
		if replicationId == "" || entry.ReplicationId == replicationId {
			entries = append(entries, entry)
		}
	}
	return entries, scanner.Err()
}
