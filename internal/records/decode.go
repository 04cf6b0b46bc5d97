package records

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tidwall/gjson"
)

var ErrMalformed = errors.New("malformed records")

// DecodeTasks strictly decodes a JSON array of task records. Unknown keys
// are rejected so a renamed backend column fails loudly.
func DecodeTasks(data []byte) ([]RawTask, error) {
	if err := precheck(data, "task"); err != nil {
		return nil, err
	}
	var out []RawTask
	if err := strictUnmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: tasks: %v", ErrMalformed, err)
	}
	return out, nil
}

func DecodeUsers(data []byte) ([]RawUser, error) {
	if err := precheck(data, "user"); err != nil {
		return nil, err
	}
	var out []RawUser
	if err := strictUnmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: users: %v", ErrMalformed, err)
	}
	return out, nil
}

// precheck rejects documents that are not an array of objects each
// carrying a numeric id, pointing at the offending index.
func precheck(data []byte, what string) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("%w: %ss: invalid json", ErrMalformed, what)
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsArray() {
		return fmt.Errorf("%w: %ss: expected an array", ErrMalformed, what)
	}
	var err error
	doc.ForEach(func(key, value gjson.Result) bool {
		if !value.IsObject() {
			err = fmt.Errorf("%w: %s #%d: expected an object", ErrMalformed, what, key.Int())
			return false
		}
		if id := value.Get("id"); id.Type != gjson.Number {
			err = fmt.Errorf("%w: %s #%d: missing numeric id", ErrMalformed, what, key.Int())
			return false
		}
		return true
	})
	return err
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// FileSource serves records from a JSON snapshot of the form
// {"tasks": [...], "users": [...]}. The operator CLI uses it to work
// without a database.
type FileSource struct {
	Path string
}

func (f FileSource) section(key string) ([]byte, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: %s: invalid json", ErrMalformed, f.Path)
	}
	res := gjson.GetBytes(data, key)
	if !res.Exists() {
		return []byte("[]"), nil
	}
	return []byte(res.Raw), nil
}

func (f FileSource) LoadTasks(ctx context.Context) ([]RawTask, error) {
	data, err := f.section("tasks")
	if err != nil {
		return nil, err
	}
	return DecodeTasks(data)
}

func (f FileSource) LoadUsers(ctx context.Context) ([]RawUser, error) {
	data, err := f.section("users")
	if err != nil {
		return nil, err
	}
	return DecodeUsers(data)
}
