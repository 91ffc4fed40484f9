package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/surveyforge/codeframe-backend/internal/logger"
	"github.com/surveyforge/codeframe-backend/internal/types"
)

// BuiltHierarchy is the staged (not yet persisted) tree for one generation:
// one level-0 category root, theme nodes under it, code nodes under themes.
// The orchestrator publishes the whole slice atomically.
type BuiltHierarchy struct {
	Nodes   []*types.HierarchyNode
	NThemes int
	NCodes  int

	// CodeVectors are exposed for the MECE pass so code embeddings are not
	// recomputed.
	CodeVectors []CodeVector
}

type HierarchyBuilder interface {
	Build(ctx context.Context, gen *types.Generation, category *types.Category, answerTexts map[uuid.UUID]string, clusters *ClusteringResult, cfg AlgorithmConfig) (*BuiltHierarchy, error)
}

type hierarchyBuilder struct {
	log    *logger.Logger
	ai     OpenAIClient
	ledger UsageLedger
}

func NewHierarchyBuilder(baseLog *logger.Logger, ai OpenAIClient, ledger UsageLedger) HierarchyBuilder {
	return &hierarchyBuilder{
		log:    baseLog.With("service", "HierarchyBuilder"),
		ai:     ai,
		ledger: ledger,
	}
}

var labelSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"name":               map[string]any{"type": "string"},
		"description":        map[string]any{"type": "string"},
		"confidence":         map[string]any{"type": "string", "enum": []string{"high", "medium", "low"}},
		"frequency_estimate": map[string]any{"type": "string", "enum": []string{"high", "medium", "low"}},
	},
	"required":             []string{"name", "description", "confidence", "frequency_estimate"},
	"additionalProperties": false,
}

var themeSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"name":        map[string]any{"type": "string"},
		"description": map[string]any{"type": "string"},
	},
	"required":             []string{"name", "description"},
	"additionalProperties": false,
}

type clusterLabel struct {
	Name              string
	Description       string
	Confidence        string
	FrequencyEstimate string
}

func validEnum(v string) bool {
	switch v {
	case types.ConfidenceHigh, types.ConfidenceMedium, types.ConfidenceLow:
		return true
	}
	return false
}

func (b *hierarchyBuilder) labelCluster(ctx context.Context, gen *types.Generation, examples []string) (*clusterLabel, error) {
	obj, usage, err := b.ai.GenerateJSON(ctx,
		"You label clusters of open-ended survey answers with a short, specific code name for a coding taxonomy.",
		fmt.Sprintf("Representative answers:\n- %s\n\nReturn a code label for this cluster.", strings.Join(examples, "\n- ")),
		"cluster_label",
		labelSchema,
	)

	genID := gen.ID
	catID := gen.CategoryID
	_ = b.ledger.Record(ctx, nil, UsageRecord{
		FeatureType:  types.FeatureLabeling,
		Model:        b.ai.Model(),
		Usage:        usage,
		GenerationID: &genID,
		CategoryID:   &catID,
	})

	if err != nil {
		return nil, NewLabelingError("label cluster: %v", err)
	}

	label := &clusterLabel{
		Name:              strings.TrimSpace(fmt.Sprint(obj["name"])),
		Description:       strings.TrimSpace(fmt.Sprint(obj["description"])),
		Confidence:        strings.ToLower(strings.TrimSpace(fmt.Sprint(obj["confidence"]))),
		FrequencyEstimate: strings.ToLower(strings.TrimSpace(fmt.Sprint(obj["frequency_estimate"]))),
	}
	if label.Name == "" {
		return nil, NewLabelingError("empty cluster label name")
	}
	if !validEnum(label.Confidence) {
		return nil, NewLabelingError("confidence %q outside {high,medium,low}", label.Confidence)
	}
	if !validEnum(label.FrequencyEstimate) {
		return nil, NewLabelingError("frequency_estimate %q outside {high,medium,low}", label.FrequencyEstimate)
	}
	return label, nil
}

func (b *hierarchyBuilder) nameTheme(ctx context.Context, gen *types.Generation, codeNames []string) (string, string, error) {
	obj, usage, err := b.ai.GenerateJSON(ctx,
		"You name groups of related survey codes with a concise theme label.",
		fmt.Sprintf("Codes in this group:\n- %s\n\nReturn a theme name and description covering all of them.", strings.Join(codeNames, "\n- ")),
		"theme_label",
		themeSchema,
	)

	genID := gen.ID
	catID := gen.CategoryID
	_ = b.ledger.Record(ctx, nil, UsageRecord{
		FeatureType:  types.FeatureThemeNaming,
		Model:        b.ai.Model(),
		Usage:        usage,
		GenerationID: &genID,
		CategoryID:   &catID,
	})

	if err != nil {
		return "", "", NewLabelingError("name theme: %v", err)
	}
	name := strings.TrimSpace(fmt.Sprint(obj["name"]))
	if name == "" {
		return "", "", NewLabelingError("empty theme name")
	}
	return name, strings.TrimSpace(fmt.Sprint(obj["description"])), nil
}

func (b *hierarchyBuilder) Build(ctx context.Context, gen *types.Generation, category *types.Category, answerTexts map[uuid.UUID]string, clusters *ClusteringResult, cfg AlgorithmConfig) (*BuiltHierarchy, error) {
	now := time.Now()

	root := &types.HierarchyNode{
		ID:              uuid.New(),
		GenerationID:    gen.ID,
		Level:           types.NodeLevelCategory,
		NodeType:        types.NodeTypeCategory,
		Name:            category.Name,
		IsAutoGenerated: true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	// Pass 1: label every cluster as a code node.
	type labeledCode struct {
		cluster Cluster
		label   *clusterLabel
		node    *types.HierarchyNode
	}
	codes := make([]*labeledCode, 0, len(clusters.Clusters))

	for _, cl := range clusters.Clusters {
		examples := make([]string, 0, len(cl.Representatives))
		for _, id := range cl.Representatives {
			if txt := strings.TrimSpace(answerTexts[id]); txt != "" {
				examples = append(examples, txt)
			}
		}
		if len(examples) == 0 {
			return nil, NewLabelingError("cluster %d has no representative texts", cl.ID)
		}

		label, err := b.labelCluster(ctx, gen, examples)
		if err != nil {
			return nil, err
		}

		clusterID := cl.ID
		node := &types.HierarchyNode{
			ID:                      uuid.New(),
			GenerationID:            gen.ID,
			Level:                   types.NodeLevelCode,
			NodeType:                types.NodeTypeCode,
			Name:                    label.Name,
			Description:             label.Description,
			ClusterID:               &clusterID,
			ClusterSize:             len(cl.MemberIDs),
			RepresentativeAnswerIDs: datatypes.JSON(mustJSON(cl.Representatives)),
			MemberAnswerIDs:         datatypes.JSON(mustJSON(cl.MemberIDs)),
			Confidence:              label.Confidence,
			FrequencyEstimate:       label.FrequencyEstimate,
			Embedding:               datatypes.JSON(marshalVector(cl.Centroid)),
			ExampleTexts:            datatypes.JSON(mustJSON(examples)),
			IsAutoGenerated:         true,
			CreatedAt:               now,
			UpdatedAt:               now,
		}
		codes = append(codes, &labeledCode{cluster: cl, label: label, node: node})
	}

	// Pass 2: group semantically similar codes into themes by clustering the
	// code-level embeddings with coarser parameters.
	codeVecs := make([]AnswerVector, 0, len(codes))
	for _, c := range codes {
		codeVecs = append(codeVecs, AnswerVector{AnswerID: c.node.ID, Vector: c.cluster.Centroid})
	}
	themeEps := cfg.ThemeEpsilon
	if themeEps <= 0 {
		themeEps = 0.5
	}
	labels := dbscan(codeVecs, themeEps, 1)

	codeByNodeID := map[uuid.UUID]*labeledCode{}
	for _, c := range codes {
		codeByNodeID[c.node.ID] = c
	}

	groups := map[int][]*labeledCode{}
	var singles []*labeledCode
	for i, lb := range labels {
		c := codeByNodeID[codeVecs[i].AnswerID]
		if lb < 0 {
			singles = append(singles, c)
			continue
		}
		groups[lb] = append(groups[lb], c)
	}
	minThemeSize := cfg.ThemeMinClusterSize
	if minThemeSize < 2 {
		minThemeSize = 2
	}
	groupIDs := make([]int, 0, len(groups))
	for id := range groups {
		groupIDs = append(groupIDs, id)
	}
	sort.Ints(groupIDs)

	type builtTheme struct {
		node  *types.HierarchyNode
		codes []*labeledCode
		size  int
	}
	var themes []*builtTheme

	addTheme := func(name, description string, members []*labeledCode) {
		theme := &types.HierarchyNode{
			ID:              uuid.New(),
			GenerationID:    gen.ID,
			ParentID:        &root.ID,
			Level:           types.NodeLevelTheme,
			NodeType:        types.NodeTypeTheme,
			Name:            name,
			Description:     description,
			IsAutoGenerated: true,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		size := 0
		for _, m := range members {
			m.node.ParentID = &theme.ID
			size += m.node.ClusterSize
		}
		theme.ClusterSize = size
		themes = append(themes, &builtTheme{node: theme, codes: members, size: size})
	}

	for _, id := range groupIDs {
		members := groups[id]
		if len(members) < minThemeSize {
			singles = append(singles, members...)
			continue
		}
		names := make([]string, 0, len(members))
		for _, m := range members {
			names = append(names, m.node.Name)
		}
		name, description, err := b.nameTheme(ctx, gen, names)
		if err != nil {
			return nil, err
		}
		addTheme(name, description, members)
	}

	// Ungrouped codes keep their own name as a single-code theme.
	sort.Slice(singles, func(i, j int) bool { return singles[i].node.ClusterSize > singles[j].node.ClusterSize })
	for _, c := range singles {
		addTheme(c.node.Name, c.node.Description, []*labeledCode{c})
	}

	// Default ordering is descending cluster size; a human edit pins the order
	// afterwards (is_edited rows are never re-sorted by later runs).
	sort.Slice(themes, func(i, j int) bool { return themes[i].size > themes[j].size })

	built := &BuiltHierarchy{
		Nodes: []*types.HierarchyNode{root},
	}
	for ti, theme := range themes {
		theme.node.DisplayOrder = ti
		built.Nodes = append(built.Nodes, theme.node)
		built.NThemes++

		sort.Slice(theme.codes, func(i, j int) bool { return theme.codes[i].node.ClusterSize > theme.codes[j].node.ClusterSize })
		for ci, c := range theme.codes {
			c.node.DisplayOrder = ci
			built.Nodes = append(built.Nodes, c.node)
			built.NCodes++
			built.CodeVectors = append(built.CodeVectors, CodeVector{
				NodeID: c.node.ID,
				Name:   c.node.Name,
				Vector: c.cluster.Centroid,
			})
		}
	}

	b.log.Debug("Hierarchy built", "themes", built.NThemes, "codes", built.NCodes)
	return built, nil
}
