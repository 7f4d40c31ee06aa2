package domain

import (
	"encoding/json"
	"fmt"
)

// EncodePayload serialises the kind-specific fields of a task.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

// DecodePayload narrows raw payload bytes to the variant registered for kind k.
func DecodePayload(k Kind, data []byte) (Payload, error) {
	if len(data) == 0 {
		data = []byte("{}")
	}
	switch k {
	case KindStartCompute, KindStopCompute:
		return ComputeAction{}, nil
	case KindStartDatabase, KindStopDatabase:
		return DatabaseAction{}, nil
	case KindRegisterImage:
		var p struct {
			ForceReboot *bool `json:"ec2ForceToReboot"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", k, err)
		}
		if p.ForceReboot == nil {
			return nil, fmt.Errorf("%w: %s payload missing ec2ForceToReboot", ErrInvalidTask, k)
		}
		return ImageRegistration{ForceReboot: *p.ForceReboot}, nil
	case KindAddImageTag:
		var p struct {
			Tags []Tag `json:"tags"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", k, err)
		}
		if p.Tags == nil {
			return nil, fmt.Errorf("%w: %s payload missing tags", ErrInvalidTask, k)
		}
		return ImageTags{Tags: p.Tags}, nil
	case KindDeregisterImage:
		var p struct {
			SnapshotIDs []string `json:"snapshotIds"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", k, err)
		}
		if p.SnapshotIDs == nil {
			return nil, fmt.Errorf("%w: %s payload missing snapshotIds", ErrInvalidTask, k)
		}
		return ImageDeregistration{SnapshotIDs: p.SnapshotIDs}, nil
	case KindStatusCheck:
		var p StatusCheck
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", k, err)
		}
		return p, nil
	}
	return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidTask, k)
}
