package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	apperrors "matrimony_chat/pkg/errors"
)

// Document - документ хранилища: непрозрачный ID и JSON-подобные данные
type Document struct {
	ID   string                 `json:"id"`
	Data map[string]interface{} `json:"data"`
}

type FilterOp int

const (
	// FilterEqual - поле равно значению
	FilterEqual FilterOp = iota
	// FilterContains - поле-массив содержит значение
	FilterContains
)

// Query - выборка по одному полю с необязательной сортировкой и лимитом
type Query struct {
	Collection    string
	EqualityField string
	EqualityValue interface{}
	Op            FilterOp
	OrderByField  string
	Descending    bool
	Limit         int
}

// Broad - тот же фильтр без сортировки и лимита (для обхода отсутствующего индекса)
func (q Query) Broad() Query {
	q.OrderByField = ""
	q.Descending = false
	q.Limit = 0
	return q
}

type SetOptions struct {
	Merge bool
}

// Unsubscribe останавливает живую подписку. Повторный вызов безопасен
type Unsubscribe func()

// DocumentStore - документное хранилище с живыми запросами
type DocumentStore interface {
	// Get возвращает ErrNotFound, если документа нет
	Get(ctx context.Context, collection, id string) (*Document, error)
	// Set создает или заменяет документ; с Merge - сливает поля верхнего уровня
	Set(ctx context.Context, collection, id string, value map[string]interface{}, opts SetOptions) error
	// Update сливает поля в существующий документ; ErrNotFound, если его нет
	Update(ctx context.Context, collection, id string, patch map[string]interface{}) error
	Remove(ctx context.Context, collection, id string) error
	Query(ctx context.Context, q Query) ([]Document, error)
	// Subscribe доставляет полный результат запроса при каждом его изменении
	Subscribe(ctx context.Context, q Query, onData func([]Document), onError func(error)) (Unsubscribe, error)
	// Claim записывает {owner} в документ, только если его нет; возвращает фактического владельца
	Claim(ctx context.Context, collection, id, owner string) (string, error)
	// SetMissing атомарно создает документ из defaults, если его нет; у существующего
	// заполняет только отсутствующие или пустые поля. true - документ создан этим вызовом
	SetMissing(ctx context.Context, collection, id string, defaults map[string]interface{}) (bool, error)
	GenerateID(collection string) string
	Close() error
}

// ClaimOwnerField - поле владельца в документах, занимаемых через Claim
const ClaimOwnerField = "uid"

func claimOwner(data map[string]interface{}) string {
	owner, _ := data[ClaimOwnerField].(string)
	return owner
}

// Encode переводит структуру в данные документа
func Encode(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return out, nil
}

// Decode заполняет v из данных документа
func Decode(doc Document, v interface{}) error {
	raw, err := json.Marshal(doc.Data)
	if err != nil {
		return fmt.Errorf("decode document %s: %w", doc.ID, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode document %s: %w", doc.ID, err)
	}
	return nil
}

// normalizeData приводит значения к JSON-виду (числа - float64) и делает глубокую копию
func normalizeData(data map[string]interface{}) (map[string]interface{}, error) {
	if data == nil {
		return map[string]interface{}{}, nil
	}
	return Encode(data)
}

func mergeData(existing, patch map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(existing)+len(patch))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// missingFields - поля defaults, которых в existing нет или они пустые
func missingFields(existing, defaults map[string]interface{}) map[string]interface{} {
	patch := map[string]interface{}{}
	for k, v := range defaults {
		if isEmptyValue(v) {
			continue
		}
		if current, ok := existing[k]; !ok || isEmptyValue(current) {
			patch[k] = v
		}
	}
	return patch
}

func isEmptyValue(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	}
	return false
}

func matchesFilter(data map[string]interface{}, q Query) bool {
	if q.EqualityField == "" {
		return true
	}
	v, ok := data[q.EqualityField]
	if !ok {
		return false
	}
	if q.Op == FilterContains {
		list, ok := v.([]interface{})
		if !ok {
			return false
		}
		for _, item := range list {
			if valuesEqual(item, q.EqualityValue) {
				return true
			}
		}
		return false
	}
	return valuesEqual(v, q.EqualityValue)
}

func valuesEqual(a, b interface{}) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// compareValues: числа сравниваются как числа, остальное - как строки; отсутствие меньше всего
func compareValues(a, b interface{}) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// applyQuery фильтрует, сортирует и ограничивает набор документов на клиенте
func applyQuery(docs []Document, q Query) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if matchesFilter(d.Data, q) {
			out = append(out, d)
		}
	}

	if q.OrderByField != "" {
		sort.SliceStable(out, func(i, j int) bool {
			c := compareValues(out[i].Data[q.OrderByField], out[j].Data[q.OrderByField])
			if c == 0 {
				c = strings.Compare(out[i].ID, out[j].ID)
			}
			if q.Descending {
				return c > 0
			}
			return c < 0
		})
	} else {
		sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func sameDocuments(a, b []Document) bool {
	if a == nil || b == nil {
		return false
	}
	return reflect.DeepEqual(a, b)
}

func notFound(collection, id string) error {
	return fmt.Errorf("%s/%s: %w", collection, id, apperrors.ErrNotFound)
}
