package model

type PartInfo struct {
	PartID       string `json:"part_id"`
	Name         string `json:"name,omitempty"`
	OEM          bool   `json:"oem"`
	Manufacturer string `json:"manufacturer,omitempty"`
}

type SpecInfo struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type ReplacementInfo struct {
	PartID            string  `json:"part_id"`
	Name              string  `json:"name,omitempty"`
	OEM               bool    `json:"oem"`
	Confidence        float64 `json:"confidence"`
	Degree            int     `json:"degree"`
	IsTribalKnowledge bool    `json:"is_tribal_knowledge"`
	Notes             string  `json:"notes,omitempty"`
	SourceDocumentID  string  `json:"source_document_id,omitempty"`
}

type EquipmentInfo struct {
	Model      string  `json:"model"`
	Type       string  `json:"type,omitempty"`
	Confidence float64 `json:"confidence"`
}

type PartLookup struct {
	Part                PartInfo          `json:"part"`
	Specifications      []SpecInfo        `json:"specifications"`
	DirectReplacements  []ReplacementInfo `json:"direct_replacements"`
	EquivalentParts     []ReplacementInfo `json:"equivalent_parts"`
	CompatibleParts     []ReplacementInfo `json:"compatible_parts"`
	CompatibleEquipment []EquipmentInfo   `json:"compatible_equipment"`
	AdaptersRequired    []ReplacementInfo `json:"adapters_required"`
	SourceDocumentIDs   []string          `json:"source_document_ids"`
}

type ReplacementChain struct {
	SourcePartID         string                    `json:"source_part_id"`
	ReplacementsByDegree map[int][]ReplacementInfo `json:"replacements_by_degree"`
	TotalReplacements    int                       `json:"total_replacements"`
	MaxDegree            int                       `json:"max_degree"`
	TribalKnowledgeCount int                       `json:"tribal_knowledge_count"`
}

type SpecSearch struct {
	QuerySpecs    SpecInfo   `json:"query_specs"`
	MatchingParts []PartInfo `json:"matching_parts"`
	TotalMatches  int        `json:"total_matches"`
}
