package record

import "fmt"

// GetString returns the string at path.
func (r *Record) GetString(path string) (string, error) {
	v, err := r.Get(path)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("record: %s is %T, not string", path, v)
	}
	return s, nil
}

// GetFloat returns the number at path as a float64. Integer values are converted.
func (r *Record) GetFloat(path string) (float64, error) {
	v, err := r.Get(path)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("record: %s is %T, not a number", path, v)
}

// GetBool returns the boolean at path.
func (r *Record) GetBool(path string) (bool, error) {
	v, err := r.Get(path)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("record: %s is %T, not bool", path, v)
	}
	return b, nil
}

// GetBytes returns the byte slice at path.
func (r *Record) GetBytes(path string) ([]byte, error) {
	v, err := r.Get(path)
	if err != nil {
		return nil, err
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("record: %s is %T, not bytes", path, v)
	}
	return b, nil
}

// GetList returns the list at path.
func (r *Record) GetList(path string) ([]any, error) {
	v, err := r.Get(path)
	if err != nil {
		return nil, err
	}
	l, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("record: %s is %T, not a list", path, v)
	}
	return l, nil
}

// GetRecord returns the nested Record at path.
func (r *Record) GetRecord(path string) (*Record, error) {
	v, err := r.Get(path)
	if err != nil {
		return nil, err
	}
	w, ok := v.(Wrapper)
	if !ok {
		return nil, fmt.Errorf("record: %s is %T, not a record", path, v)
	}
	return w.Unwrap(), nil
}
