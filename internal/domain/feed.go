package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalidPayload: структурная ошибка снапшота, отдается продюсеру как 400.
var ErrInvalidPayload = errors.New("invalid payload structure")

// Snapshot: единственная авторитетная запись телеметрии угроз.
// Продюсер присылает его целиком, частичных обновлений нет.
type Snapshot struct {
	HasData  bool           `json:"hasData"` // false: снапшот не инициализирован
	Metadata *Metadata      `json:"metadata"`
	Threats  []ThreatRecord `json:"threats"` // в порядке rank, сервис не пересортировывает
}

type Metadata struct {
	Timestamp         string  `json:"timestamp"`
	CurrentHour       string  `json:"currentHour"`
	MinutesUntilReset float64 `json:"minutesUntilReset"`
	TotalAttacks      int     `json:"totalAttacks"`
	TotalIPs          int     `json:"totalIPs"`
}

// ThreatRecord: атакующий источник. Уникальность rank и сумма attackTypes
// на совести продюсера.
type ThreatRecord struct {
	Rank         int          `json:"rank"`
	IP           string       `json:"ip"`
	TotalAttacks int          `json:"totalAttacks"`
	AttackTypes  []AttackType `json:"attackTypes"`
	Enrichment   Enrichment   `json:"enrichment"`
}

type AttackType struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type Enrichment struct {
	Country string `json:"country"`
	ASN     string `json:"asn"`
	Org     string `json:"org"`
}

// Payload: принятое тело ingest. Raw хранится как прислал продюсер
// (только без пробелов): поля, которых нет в Snapshot, не теряются.
type Payload struct {
	Raw   json.RawMessage
	Count int
}

// envelope: только те поля, которые проверяются при приеме.
type envelope struct {
	HasData  json.RawMessage   `json:"hasData"`
	Metadata json.RawMessage   `json:"metadata"`
	Threats  []json.RawMessage `json:"threats"`
}

// ParsePayload проверяет тело ingest в порядке hasData, threats, metadata.
// Любая ошибка оборачивает ErrInvalidPayload.
func ParsePayload(data []byte) (*Payload, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if !truthy(env.HasData) {
		return nil, fmt.Errorf("%w: hasData is not set", ErrInvalidPayload)
	}
	if env.Threats == nil {
		return nil, fmt.Errorf("%w: threats missing", ErrInvalidPayload)
	}
	if !isObject(env.Metadata) {
		return nil, fmt.Errorf("%w: metadata missing", ErrInvalidPayload)
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return &Payload{Raw: buf.Bytes(), Count: len(env.Threats)}, nil
}

// truthy повторяет правила истинности продюсера: false, 0, "" и null ложны.
func truthy(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	switch raw[0] {
	case 'n', 'f':
		return false
	case 't', '{', '[':
		return true
	case '"':
		var str string
		return json.Unmarshal(raw, &str) == nil && str != ""
	default:
		n, err := strconv.ParseFloat(string(raw), 64)
		return err == nil && n != 0
	}
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

// Clone возвращает глубокую копию, чтобы вызывающий не испортил общий снапшот.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{HasData: s.HasData}
	if s.Metadata != nil {
		m := *s.Metadata
		out.Metadata = &m
	}
	if s.Threats != nil {
		out.Threats = make([]ThreatRecord, len(s.Threats))
		for i, t := range s.Threats {
			if t.AttackTypes != nil {
				t.AttackTypes = append([]AttackType(nil), t.AttackTypes...)
			}
			out.Threats[i] = t
		}
	}
	return out
}
