package rpc

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/ledgersync/internal/models"
	"google.golang.org/protobuf/types/known/structpb"
)

// Wire field names.
const (
	FieldOperation    = "operation"
	FieldCollection   = "collection"
	FieldID           = "id"
	FieldLastModified = "last_modified"
	FieldFields       = "fields"
	FieldDeviceID     = "device_id"
	FieldDeleted      = "deleted"
	FieldApplied      = "applied"
	FieldAPIKey       = "api_key"
)

// MutationToStruct encodes m for Push. lastModified travels as unix millis.
func MutationToStruct(m models.Mutation) (*structpb.Struct, error) {
	fields := m.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	return structpb.NewStruct(map[string]any{
		FieldOperation:    string(m.Operation),
		FieldCollection:   m.Collection,
		FieldID:           m.ID,
		FieldLastModified: float64(models.Millis(m.LastModified)),
		FieldDeviceID:     m.DeviceID,
		FieldFields:       fields,
	})
}

// MutationFromStruct decodes a Push request.
func MutationFromStruct(s *structpb.Struct) (models.Mutation, error) {
	if s == nil {
		return models.Mutation{}, errors.New("empty mutation")
	}
	v := s.AsMap()
	m := models.Mutation{
		Operation:  models.Operation(str(v, FieldOperation)),
		Collection: str(v, FieldCollection),
		ID:         str(v, FieldID),
		DeviceID:   str(v, FieldDeviceID),
	}
	if !m.Operation.Valid() {
		return models.Mutation{}, fmt.Errorf("unknown operation %q", m.Operation)
	}
	if m.Collection == "" || m.ID == "" {
		return models.Mutation{}, errors.New("mutation needs collection and id")
	}
	ms, ok := v[FieldLastModified].(float64)
	if !ok {
		return models.Mutation{}, errors.New("mutation needs last_modified")
	}
	m.LastModified = models.FromMillis(int64(ms))
	if f, ok := v[FieldFields].(map[string]any); ok {
		m.Fields = f
	}
	return m, nil
}

// RecordToStruct encodes one record of collection. Tombstones carry
// deleted=true.
func RecordToStruct(collection string, rec *models.Record, deleted bool) (*structpb.Struct, error) {
	fields := rec.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	return structpb.NewStruct(map[string]any{
		FieldCollection:   collection,
		FieldID:           rec.ID,
		FieldLastModified: float64(models.Millis(rec.LastModified)),
		FieldDeleted:      deleted,
		FieldFields:       fields,
	})
}

// RecordFromStruct is the inverse of RecordToStruct.
func RecordFromStruct(s *structpb.Struct) (collection string, rec *models.Record, deleted bool, err error) {
	if s == nil {
		return "", nil, false, errors.New("empty record")
	}
	v := s.AsMap()
	id := str(v, FieldID)
	if id == "" {
		return "", nil, false, errors.New("record without id")
	}
	ms, ok := v[FieldLastModified].(float64)
	if !ok {
		return "", nil, false, fmt.Errorf("record %s without last_modified", id)
	}
	rec = &models.Record{ID: id, LastModified: models.FromMillis(int64(ms)), Fields: map[string]any{}}
	if f, ok := v[FieldFields].(map[string]any); ok {
		rec.Fields = f
	}
	deleted, _ = v[FieldDeleted].(bool)
	return str(v, FieldCollection), rec, deleted, nil
}

// RecordsToList encodes a PullAll response.
func RecordsToList(collection string, recs []*models.Record) (*structpb.ListValue, error) {
	out := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(recs))}
	for _, r := range recs {
		s, err := RecordToStruct(collection, r, false)
		if err != nil {
			return nil, fmt.Errorf("encode %s/%s: %w", collection, r.ID, err)
		}
		out.Values = append(out.Values, structpb.NewStructValue(s))
	}
	return out, nil
}

// RecordsFromList decodes a PullAll response.
func RecordsFromList(l *structpb.ListValue) ([]*models.Record, error) {
	out := make([]*models.Record, 0, len(l.GetValues()))
	for i, v := range l.GetValues() {
		s := v.GetStructValue()
		if s == nil {
			return nil, fmt.Errorf("item %d is not a record", i)
		}
		_, rec, _, err := RecordFromStruct(s)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// ChangeToStruct encodes a subscription event.
func ChangeToStruct(c models.Change) (*structpb.Struct, error) {
	return RecordToStruct(c.Collection, c.Record, c.Deleted)
}

// ChangeFromStruct decodes a subscription event.
func ChangeFromStruct(s *structpb.Struct) (models.Change, error) {
	collection, rec, deleted, err := RecordFromStruct(s)
	if err != nil {
		return models.Change{}, err
	}
	return models.Change{Collection: collection, Record: rec, Deleted: deleted}, nil
}

// PushReply encodes the Push response.
func PushReply(applied bool) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldApplied: structpb.NewBoolValue(applied),
	}}
}

// SubscribeRequest encodes the Subscribe request for collection.
func SubscribeRequest(collection string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldCollection: structpb.NewStringValue(collection),
	}}
}

// Credentials encodes the Authenticate request.
func Credentials(deviceID, apiKey string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldDeviceID: structpb.NewStringValue(deviceID),
		FieldAPIKey:   structpb.NewStringValue(apiKey),
	}}
}

func str(v map[string]any, key string) string {
	s, _ := v[key].(string)
	return s
}
