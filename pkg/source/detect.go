package source

import (
	"bufio"
	"io"
	"strings"

	"github.com/agentstation/adsync/pkg/constants"
	"github.com/agentstation/adsync/pkg/errors"
	"github.com/agentstation/adsync/pkg/logging"
)

// Candidates lists the delimiters considered during detection, in order of
// preference when scores tie.
var Candidates = []rune{',', ';', '\t', '|'}

// DetectSchema sniffs the first lines of r for a delimiter and reads the
// header row. A delimiter wins when it appears the same, non-zero number of
// times on every sampled line; otherwise the one most frequent in the header
// is used. Files are always assumed to carry a header row.
func DetectSchema(r io.Reader) (Schema, error) {
	sample, err := sniff(r, constants.SniffLines)
	if err != nil {
		return Schema{}, err
	}
	if len(sample) == 0 {
		return Schema{}, &errors.ParseError{Format: "csv", Message: "file is empty"}
	}

	delim := pickDelimiter(sample)
	header := headerFields(sample[0], delim)
	if len(header) == 0 {
		return Schema{}, &errors.ParseError{Format: "csv", Line: 1, Message: "missing header row"}
	}
	for _, c := range header {
		if c == "" {
			return Schema{}, &errors.ParseError{Format: "csv", Line: 1, Message: "header contains an empty column name"}
		}
	}

	logging.Debug().
		Str("delimiter", string(delim)).
		Strs("columns", header).
		Msg("Detected source schema")

	return Schema{Delimiter: delim, Columns: header, HasHeader: true}, nil
}

func headerFields(line string, delim rune) []string {
	reader := newReader(strings.NewReader(line), delim)
	record, err := reader.Read()
	if err != nil {
		return nil
	}
	return cleanColumns(record)
}

func sniff(r io.Reader, n int) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var lines []string
	for scanner.Scan() && len(lines) < n {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, &errors.ParseError{Format: "csv", Message: "cannot read sample", Err: err}
	}
	return lines, nil
}

func pickDelimiter(sample []string) rune {
	best, bestCount := rune(0), 0
	for _, d := range Candidates {
		count := strings.Count(sample[0], string(d))
		if count == 0 {
			continue
		}
		consistent := true
		for _, line := range sample[1:] {
			if strings.Count(line, string(d)) != count {
				consistent = false
				break
			}
		}
		if consistent && count > bestCount {
			best, bestCount = d, count
		}
	}
	if best != 0 {
		return best
	}

	for _, d := range Candidates {
		if count := strings.Count(sample[0], string(d)); count > bestCount {
			best, bestCount = d, count
		}
	}
	if best == 0 {
		return ','
	}
	return best
}
