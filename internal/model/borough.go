// Package model holds the types shared by the registry, the aggregator and the view layer.
package model

// Borough is one of the Mexico City alcaldías, identified by the name used in
// the boundary file and the numeric code assigned by the data source.
type Borough struct {
	Name string `json:"nombre"`
	Code int    `json:"codigo"`
	// Sentinel marks registry rows that are not a real borough
	// ("No especificado", whole-city totals).
	Sentinel bool `json:"sentinela,omitempty"`
}
