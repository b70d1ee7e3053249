package postgres

import (
	"encoding/json"

	"github.com/pgvector/pgvector-go"

	"github.com/knowgraph/ragstore/model"
)

func serializeVector(v model.Vector) pgvector.HalfVector {
	return pgvector.NewHalfVector(v)
}

func marshalStrings(ss []string) []byte {
	if ss == nil {
		ss = []string{}
	}
	b, _ := json.Marshal(ss)
	return b
}

func unmarshalStrings(b []byte) []string {
	if len(b) == 0 {
		return nil
	}
	var ss []string
	_ = json.Unmarshal(b, &ss)
	return ss
}

func marshalMetadata(m model.Metadata) []byte {
	if len(m) == 0 {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return b
}

func unmarshalMetadata(b []byte) model.Metadata {
	m := model.Metadata{}
	if len(b) > 0 {
		_ = json.Unmarshal(b, &m)
	}
	return m
}
