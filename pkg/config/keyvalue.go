package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
)

// parameterKeys are the keys recognised in a parameter file, in the order
// they are reported when missing.
var parameterKeys = []string{
	"maxKrigingModelSize",
	"maxNumberSearchModels",
	"theta",
	"meanErrorFactor",
	"tolerance",
	"maxQueryPointModelDistance",
}

// ApplyParameterFile reads a parameter file of whitespace-separated
// key/value pairs and overrides the matching database settings. Unknown
// tokens are skipped. Keys that are absent keep their current value and
// are returned so the caller can report them.
func (c *Config) ApplyParameterFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error reading parameter file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Split(bufio.ScanWords)

	found := make(map[string]bool)
	for scanner.Scan() {
		key := scanner.Text()
		if !c.isParameterKey(key) {
			continue
		}
		if !scanner.Scan() {
			return nil, fmt.Errorf("parameter %s: missing value", key)
		}
		if err := c.setParameter(key, scanner.Text()); err != nil {
			return nil, fmt.Errorf("parameter %s: %w", key, err)
		}
		found[key] = true
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading parameter file: %w", err)
	}

	var missing []string
	for _, key := range parameterKeys {
		if !found[key] {
			missing = append(missing, key)
		}
	}
	return missing, nil
}

func (c *Config) isParameterKey(key string) bool {
	for _, k := range parameterKeys {
		if k == key {
			return true
		}
	}
	return false
}

func (c *Config) setParameter(key, value string) error {
	switch key {
	case "maxKrigingModelSize", "maxNumberSearchModels":
		// Integers may be written as floats.
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		if key == "maxKrigingModelSize" {
			c.Database.MaxKrigingModelSize = int(f)
		} else {
			c.Database.MaxNumberSearchModels = int(f)
		}
		return nil
	}

	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return err
	}
	switch key {
	case "theta":
		c.Database.Theta = f
	case "meanErrorFactor":
		c.Database.MeanErrorFactor = f
	case "tolerance":
		c.Database.Tolerance = f
	case "maxQueryPointModelDistance":
		c.Database.MaxQueryPointModelDistance = f
	}
	return nil
}
