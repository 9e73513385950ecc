package reporting

import (
	"sort"
	"strings"
)

// Field requirements per section. Which sections apply depends on the form
// type and, for propositions, on the anomalies declared on the report.
var (
	situationMajicFields = []string{
		"situation_annee_majic",
		"situation_invariant",
		"situation_parcelle",
	}

	situationEvaluationFields = []string{
		"situation_date_mutation",
		"situation_affectation",
		"situation_nature",
		"situation_categorie",
		"situation_surface_reelle",
	}

	// Professional premises carry an extra location coefficient.
	situationProfessionnelFields = []string{
		"situation_coefficient_localisation",
	}

	propositionByAnomaly = map[string][]string{
		"affectation":        {"proposition_affectation", "proposition_nature", "proposition_categorie"},
		"consistance":        {"proposition_nature", "proposition_categorie", "proposition_surface_reelle"},
		"categorie":          {"proposition_categorie"},
		"adresse":            {"proposition_numero_voie", "proposition_libelle_voie"},
		"exoneration":        {"proposition_exoneration"},
		"correctif":          {"proposition_correctif"},
		"omission_batie":     {"proposition_nature", "proposition_categorie", "proposition_surface_reelle", "proposition_date_achevement"},
		"construction_neuve": {"proposition_nature", "proposition_categorie", "proposition_surface_reelle", "proposition_date_achevement"},
		"occupation":         {"proposition_date_occupation", "proposition_occupant"},
	}
)

// RequiredFields computes the mandatory field names for a report given its
// form type and declared anomalies. Pure function, no side effects.
func RequiredFields(formType string, anomalies []string) []string {
	set := make(map[string]struct{})
	add := func(names []string) {
		for _, n := range names {
			set[n] = struct{}{}
		}
	}

	add(situationMajicFields)

	switch formType {
	case FormEvaluationLocalHabitation:
		add(situationEvaluationFields)
	case FormEvaluationLocalProfessionnel:
		add(situationEvaluationFields)
		add(situationProfessionnelFields)
	case FormCreationLocalProfessionnel:
		add(situationProfessionnelFields)
	case FormOccupationLocalHabitation, FormOccupationLocalProfessionnel:
		add([]string{"situation_occupation_annee"})
	}

	for _, anomaly := range anomalies {
		add(propositionByAnomaly[anomaly])
	}

	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// MissingFields returns the mandatory fields not yet filled on the report,
// sorted by name. An empty result means the report may become ready.
// Re-evaluated on every relevant field change; never mutates the report.
func MissingFields(r *Report) []string {
	var missing []string
	for _, name := range RequiredFields(r.FormType, r.Anomalies) {
		if strings.TrimSpace(r.Fields[name]) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}
