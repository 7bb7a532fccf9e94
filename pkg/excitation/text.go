package excitation

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// loadText reads one floating point value per line, in bin order.
func loadText(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var values []float64
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, errors.Wrapf(ErrFormat, "line %d: %v", line, err)
		}
		values = append(values, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

// saveText writes one value per line with no newline after the last value.
func saveText(path string, values []float64) error {
	var sb strings.Builder
	for i, v := range values {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	return os.WriteFile(path, []byte(sb.String()), 0644)
}
