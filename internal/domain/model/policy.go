package model

import (
	"encoding/json"
	"fmt"
)

// PolicyDocument is a per-linked-account allow-list that narrows what a
// sufficiently scoped token may do with that account. Policy is opt-in
// tightening only: an absent document means "no restriction beyond scopes",
// while a present document with empty allow-sets denies every operation.
type PolicyDocument struct {
	AllowedOperations []string `json:"allowed_operations"`
	AllowedCategories []string `json:"allowed_categories"`
}

// Permits reports whether the document allows the given operation, either by
// naming it directly or by allowing its category.
func (p PolicyDocument) Permits(operationID string, category OperationCategory) bool {
	for _, op := range p.AllowedOperations {
		if op == operationID {
			return true
		}
	}
	for _, c := range p.AllowedCategories {
		if c == string(category) {
			return true
		}
	}
	return false
}

// ParsePolicyDocument decodes the JSON form stored on a linked account row.
func ParsePolicyDocument(raw string) (*PolicyDocument, error) {
	var p PolicyDocument
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("parse policy document: %w", err)
	}
	return &p, nil
}

// Encode returns the canonical JSON form for persistence.
func (p PolicyDocument) Encode() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode policy document: %w", err)
	}
	return string(data), nil
}
