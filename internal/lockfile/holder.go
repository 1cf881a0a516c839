package lockfile

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const maxHolderBytes = 4096

// Holder is the diagnostic record written into a sentinel by its claimant.
type Holder struct {
	PID      int
	Owner    string
	RunID    string
	Acquired time.Time
}

func (h Holder) encode() []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "pid: %d\n", h.PID)
	if h.Owner != "" {
		fmt.Fprintf(&b, "owner: %s\n", h.Owner)
	}
	if h.RunID != "" {
		fmt.Fprintf(&b, "run_id: %s\n", h.RunID)
	}
	fmt.Fprintf(&b, "acquired: %s\n", h.Acquired.UTC().Format(time.RFC3339))
	return b.Bytes()
}

func parseHolder(data []byte) Holder {
	var h Holder
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil {
				h.PID = pid
			}
		case "owner":
			h.Owner = value
		case "run_id":
			h.RunID = value
		case "acquired":
			if ts, err := time.Parse(time.RFC3339, value); err == nil {
				h.Acquired = ts
			}
		}
	}
	return h
}

// ReadHolder parses the sentinel at path without taking any lock.
func ReadHolder(path string) (Holder, error) {
	f, err := os.Open(path)
	if err != nil {
		return Holder{}, err
	}
	defer f.Close()
	holder, _ := readHolder(f)
	return holder, nil
}
