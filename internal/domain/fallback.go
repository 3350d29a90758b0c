package domain

import (
	"encoding/json"
	"time"
)

// fallbackSnapshot отдается, когда хранилище пусто или недоступно.
// Timestamp фиксируется при старте процесса.
var fallbackSnapshot = Snapshot{
	HasData: true,
	Metadata: &Metadata{
		Timestamp:         time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		CurrentHour:       "6 PM",
		MinutesUntilReset: 45,
		TotalAttacks:      14592,
		TotalIPs:          892,
	},
	Threats: []ThreatRecord{
		{
			Rank:         1,
			IP:           "192.168.1.100",
			TotalAttacks: 4502,
			AttackTypes: []AttackType{
				{Type: "Cowrie", Count: 2100},
				{Type: "Dionaea", Count: 1800},
				{Type: "Adbhoney", Count: 602},
			},
			Enrichment: Enrichment{Country: "United States", ASN: "AS15169", Org: "Google LLC"},
		},
		{
			Rank:         2,
			IP:           "45.22.10.5",
			TotalAttacks: 3105,
			AttackTypes: []AttackType{
				{Type: "ElasticPot", Count: 3000},
				{Type: "Wordpot", Count: 105},
			},
			Enrichment: Enrichment{Country: "Russia", ASN: "AS12345", Org: "Some Hosting Provider"},
		},
		{
			Rank:         3,
			IP:           "114.114.114.114",
			TotalAttacks: 2840,
			AttackTypes:  []AttackType{{Type: "Cowrie", Count: 2840}},
			Enrichment:   Enrichment{Country: "China", ASN: "AS4134", Org: "Chinanet"},
		},
		{
			Rank:         4,
			IP:           "8.8.8.8",
			TotalAttacks: 1200,
			AttackTypes:  []AttackType{{Type: "Log4pot", Count: 1200}},
			Enrichment:   Enrichment{Country: "United States", ASN: "AS15169", Org: "Google LLC"},
		},
		{
			Rank:         5,
			IP:           "1.1.1.1",
			TotalAttacks: 940,
			AttackTypes:  []AttackType{{Type: "Mailoney", Count: 940}},
			Enrichment:   Enrichment{Country: "Australia", ASN: "AS13335", Org: "Cloudflare, Inc."},
		},
	},
}

// Fallback возвращает копию статического датасета.
func Fallback() Snapshot {
	return fallbackSnapshot.Clone()
}

// fallbackJSON кодируется один раз: набор неизменен за жизнь процесса.
var fallbackJSON = func() []byte {
	data, err := json.Marshal(fallbackSnapshot)
	if err != nil {
		panic("domain: encode fallback snapshot: " + err.Error())
	}
	return data
}()

// FallbackJSON возвращает копию закодированного fallback-набора.
func FallbackJSON() []byte {
	return append([]byte(nil), fallbackJSON...)
}
