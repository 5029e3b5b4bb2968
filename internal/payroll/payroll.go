// Package payroll finds ghost-employee syndicates: groups of employees that
// share contact or banking details.
package payroll

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/network"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/spigell/fiscal-sentinel/internal/integrity"
	"github.com/spigell/fiscal-sentinel/internal/tabular"
	"github.com/spigell/fiscal-sentinel/internal/utils"
)

// ErrMissingColumns is returned when the payroll lacks an id, a name or every linking attribute.
var ErrMissingColumns = tabular.ErrMissingColumns

// Linking attributes.
const (
	AttrMobile      = "mobile"
	AttrAddress     = "address"
	AttrBankAccount = "bank_account"
)

var attributes = []string{AttrMobile, AttrAddress, AttrBankAccount}

var columns = []tabular.Column{
	{Name: "employee_id", Aliases: []string{"emp_id", "id"}, Required: true},
	{Name: "name", Aliases: []string{"employee_name"}, Required: true},
	{Name: AttrMobile, Aliases: []string{"phone", "mobile_number"}},
	{Name: AttrAddress},
	{Name: AttrBankAccount, Aliases: []string{"bank_acc", "account_number"}},
}

const clusterDescription = "Employees sharing contact or banking details: possible ghost or syndicate."

// Config holds the Ghost-Hunter thresholds.
type Config struct {
	MinClusterSize int     `mapstructure:"min-cluster-size" json:"min_cluster_size"`
	HighDensity    float64 `mapstructure:"high-density" json:"high_density"`
	TopSuspects    int     `mapstructure:"top-suspects" json:"top_suspects"`
	AllowListFile  string  `mapstructure:"allow-list-file" json:"allow_list_file,omitempty"`
	// AllowList holds attribute values shared legitimately, such as a hostel address.
	AllowList []string `mapstructure:"allow-list" json:"allow_list,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		MinClusterSize: 3,
		HighDensity:    0.7,
		TopSuspects:    5,
	}
}

// Employee is one payroll row.
type Employee struct {
	ID          string `json:"employee_id"`
	Name        string `json:"name"`
	Mobile      string `json:"mobile,omitempty"`
	Address     string `json:"address,omitempty"`
	BankAccount string `json:"bank_account,omitempty"`
}

func (e Employee) attribute(name string) string {
	switch name {
	case AttrMobile:
		return e.Mobile
	case AttrAddress:
		return e.Address
	case AttrBankAccount:
		return e.BankAccount
	}
	return ""
}

// Link connects two employees of a cluster.
type Link struct {
	From    string   `json:"from"`
	To      string   `json:"to"`
	Weight  int      `json:"weight"`
	Reasons []string `json:"reasons"`
}

// Suspect is an employee ranked by how central they are to a cluster.
type Suspect struct {
	EmployeeID  string  `json:"employee_id"`
	Name        string  `json:"name"`
	Centrality  float64 `json:"centrality"`
	Degree      int     `json:"degree"`
	ClusterSize int     `json:"cluster_size"`
}

// Cluster is a connected group of linked employees.
type Cluster struct {
	Size             int        `json:"size"`
	EmployeeIDs      []string   `json:"employee_ids"`
	Employees        []Employee `json:"employees"`
	Links            []Link     `json:"links"`
	Density          float64    `json:"density"`
	AvgDegree        float64    `json:"avg_degree"`
	SharedAttributes []string   `json:"shared_attributes"`
	Severity         string     `json:"severity"`
	Kingpin          *Suspect   `json:"kingpin"`
	Description      string     `json:"description"`
}

// GraphMetrics describes the whole employee graph.
type GraphMetrics struct {
	Nodes   int     `json:"nodes"`
	Edges   int     `json:"edges"`
	Density float64 `json:"density"`
}

// Result is the Ghost-Hunter report.
type Result struct {
	Analyzer         string       `json:"analyzer"`
	TotalEmployees   int          `json:"num_employees"`
	Graph            GraphMetrics `json:"graph"`
	MinClusterSize   int          `json:"min_cluster_size"`
	RiskyClusters    []Cluster    `json:"risky_clusters"`
	FlaggedEmployees int          `json:"flagged_employees"`
	TopSuspects      []Suspect    `json:"top_suspects"`
	Status           string       `json:"status"`
	IntegrityScore   float64      `json:"integrity_score"`
}

// Analyzer runs Ghost-Hunter scans.
type Analyzer struct {
	cfg    Config
	allow  map[string]struct{}
	logger *zap.Logger
}

// New creates an Analyzer, reading the allow-list file when configured.
func New(cfg Config, logger *zap.Logger) (*Analyzer, error) {
	if cfg.MinClusterSize < 2 {
		return nil, fmt.Errorf("min cluster size must be at least 2, got %d", cfg.MinClusterSize)
	}
	if cfg.TopSuspects <= 0 {
		cfg.TopSuspects = DefaultConfig().TopSuspects
	}
	if cfg.HighDensity <= 0 {
		cfg.HighDensity = DefaultConfig().HighDensity
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	allow := make(map[string]struct{})
	for _, v := range cfg.AllowList {
		if n := normalizeValue(v); n != "" {
			allow[n] = struct{}{}
		}
	}
	if cfg.AllowListFile != "" {
		values, err := readAllowList(cfg.AllowListFile)
		if err != nil {
			return nil, err
		}
		for _, v := range values {
			allow[v] = struct{}{}
		}
	}

	return &Analyzer{cfg: cfg, allow: allow, logger: logger}, nil
}

// ParseEmployees reads a payroll CSV. Rows without an employee id are
// skipped; repeated ids are merged, keeping the first non-empty value of
// every field.
func ParseEmployees(r io.Reader) ([]Employee, error) {
	table, err := tabular.Read(r, columns)
	if err != nil {
		return nil, err
	}
	if err := table.RequireAny(attributes...); err != nil {
		return nil, err
	}

	index := make(map[string]int)
	var employees []Employee
	for i := 0; i < table.Len(); i++ {
		e := Employee{
			ID:          table.Value(i, "employee_id"),
			Name:        table.Value(i, "name"),
			Mobile:      table.Value(i, AttrMobile),
			Address:     table.Value(i, AttrAddress),
			BankAccount: table.Value(i, AttrBankAccount),
		}
		if e.ID == "" {
			continue
		}
		if pos, ok := index[e.ID]; ok {
			employees[pos] = merge(employees[pos], e)
			continue
		}
		index[e.ID] = len(employees)
		employees = append(employees, e)
	}
	return employees, nil
}

// AnalyzeCSV parses the payroll and analyzes it.
func (a *Analyzer) AnalyzeCSV(ctx context.Context, r io.Reader) (*Result, error) {
	employees, err := ParseEmployees(r)
	if err != nil {
		return nil, err
	}
	return a.Analyze(ctx, employees)
}

// Analyze links employees sharing attributes and reports the connected
// components of at least MinClusterSize employees.
func (a *Analyzer) Analyze(ctx context.Context, employees []Employee) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g := simple.NewUndirectedGraph()
	for i := range employees {
		g.AddNode(simple.Node(int64(i)))
	}

	links := a.link(employees)
	for key := range links {
		g.SetEdge(g.NewEdge(simple.Node(key[0]), simple.Node(key[1])))
	}

	nodes := len(employees)
	res := &Result{
		Analyzer:       integrity.GhostHunter,
		TotalEmployees: nodes,
		Graph:          GraphMetrics{Nodes: nodes, Edges: len(links), Density: utils.Round(density(nodes, len(links)), 4)},
		MinClusterSize: a.cfg.MinClusterSize,
		RiskyClusters:  []Cluster{},
		TopSuspects:    []Suspect{},
	}

	components := topo.ConnectedComponents(g)
	var (
		centrality map[int64]float64
		suspects   []Suspect
	)
	for _, component := range components {
		if len(component) < a.cfg.MinClusterSize {
			continue
		}
		if centrality == nil {
			centrality = network.Betweenness(g)
		}
		c, ranked := a.cluster(g, component, employees, links, centrality)
		res.RiskyClusters = append(res.RiskyClusters, c)
		suspects = append(suspects, ranked...)
	}

	sort.SliceStable(res.RiskyClusters, func(i, j int) bool {
		if res.RiskyClusters[i].Size != res.RiskyClusters[j].Size {
			return res.RiskyClusters[i].Size > res.RiskyClusters[j].Size
		}
		return res.RiskyClusters[i].EmployeeIDs[0] < res.RiskyClusters[j].EmployeeIDs[0]
	})

	for _, c := range res.RiskyClusters {
		res.FlaggedEmployees += c.Size
	}
	sortSuspects(suspects)
	if len(suspects) > a.cfg.TopSuspects {
		suspects = suspects[:a.cfg.TopSuspects]
	}
	if suspects != nil {
		res.TopSuspects = suspects
	}

	res.Status = integrity.Status(len(res.RiskyClusters))
	res.IntegrityScore = integrity.FromRatio(res.FlaggedEmployees, nodes)

	a.logger.Info("payroll graph analyzed",
		zap.Int("employees", nodes),
		zap.Int("edges", len(links)),
		zap.Int("components", len(components)),
		zap.Int("risky_clusters", len(res.RiskyClusters)),
		zap.Float64("integrity_score", res.IntegrityScore),
	)

	return res, nil
}

type pairKey [2]int64

type edgeInfo struct {
	weight  int
	reasons []string
}

// link groups employees by normalised attribute value and connects every pair in a group.
func (a *Analyzer) link(employees []Employee) map[pairKey]*edgeInfo {
	links := make(map[pairKey]*edgeInfo)
	for _, attr := range attributes {
		groups := make(map[string][]int64)
		var order []string
		for i, e := range employees {
			v := normalizeValue(e.attribute(attr))
			if v == "" {
				continue
			}
			if _, ok := a.allow[v]; ok {
				continue
			}
			if _, ok := groups[v]; !ok {
				order = append(order, v)
			}
			groups[v] = append(groups[v], int64(i))
		}

		for _, v := range order {
			ids := groups[v]
			for i := 0; i < len(ids); i++ {
				for j := i + 1; j < len(ids); j++ {
					key := pairKey{ids[i], ids[j]}
					info, ok := links[key]
					if !ok {
						info = &edgeInfo{}
						links[key] = info
					}
					if !slices.Contains(info.reasons, attr) {
						info.weight++
						info.reasons = append(info.reasons, attr)
					}
				}
			}
		}
	}
	return links
}

func (a *Analyzer) cluster(g *simple.UndirectedGraph, component []graph.Node, employees []Employee, links map[pairKey]*edgeInfo, centrality map[int64]float64) (Cluster, []Suspect) {
	size := len(component)
	ids := make([]int64, 0, size)
	for _, n := range component {
		ids = append(ids, n.ID())
	}
	slices.SortFunc(ids, func(x, y int64) int { return strings.Compare(employees[x].ID, employees[y].ID) })

	member := make(map[int64]struct{}, size)
	for _, id := range ids {
		member[id] = struct{}{}
	}

	c := Cluster{Size: size, Description: clusterDescription}
	shared := make(map[string]struct{})
	for _, id := range ids {
		c.EmployeeIDs = append(c.EmployeeIDs, employees[id].ID)
		c.Employees = append(c.Employees, employees[id])
	}

	var keys []pairKey
	for key := range links {
		if _, ok := member[key[0]]; ok {
			keys = append(keys, key)
		}
	}
	slices.SortFunc(keys, func(x, y pairKey) int {
		if d := strings.Compare(employees[x[0]].ID, employees[y[0]].ID); d != 0 {
			return d
		}
		return strings.Compare(employees[x[1]].ID, employees[y[1]].ID)
	})
	for _, key := range keys {
		info := links[key]
		c.Links = append(c.Links, Link{From: employees[key[0]].ID, To: employees[key[1]].ID, Weight: info.weight, Reasons: slices.Clone(info.reasons)})
		for _, r := range info.reasons {
			shared[r] = struct{}{}
		}
	}
	for _, attr := range attributes {
		if _, ok := shared[attr]; ok {
			c.SharedAttributes = append(c.SharedAttributes, attr)
		}
	}

	edges := len(keys)
	c.Density = utils.Round(density(size, edges), 4)
	c.AvgDegree = utils.Round(2*float64(edges)/float64(size), 2)
	c.Severity = a.severity(size, c.Density)

	// Betweenness over an undirected graph counts each path in both
	// directions, so (n-1)(n-2) maps it onto 0..1.
	norm := float64((size - 1) * (size - 2))
	suspects := make([]Suspect, 0, size)
	for _, id := range ids {
		s := Suspect{
			EmployeeID:  employees[id].ID,
			Name:        employees[id].Name,
			Degree:      g.From(id).Len(),
			ClusterSize: size,
		}
		if norm > 0 {
			s.Centrality = utils.Round(centrality[id]/norm, 4)
		}
		suspects = append(suspects, s)
	}
	sortSuspects(suspects)
	kingpin := suspects[0]
	c.Kingpin = &kingpin

	return c, suspects
}

func (a *Analyzer) severity(size int, density float64) string {
	switch {
	case density >= a.cfg.HighDensity || size >= 2*a.cfg.MinClusterSize:
		return integrity.SeverityCritical
	case size > a.cfg.MinClusterSize:
		return integrity.SeverityHigh
	default:
		return integrity.SeverityMedium
	}
}

// sortSuspects orders by centrality, then degree, then employee id.
func sortSuspects(s []Suspect) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Centrality != s[j].Centrality {
			return s[i].Centrality > s[j].Centrality
		}
		if s[i].Degree != s[j].Degree {
			return s[i].Degree > s[j].Degree
		}
		return s[i].EmployeeID < s[j].EmployeeID
	})
}

func density(nodes, edges int) float64 {
	if nodes < 2 {
		return 0
	}
	return 2 * float64(edges) / float64(nodes*(nodes-1))
}

func merge(into, from Employee) Employee {
	if into.Name == "" {
		into.Name = from.Name
	}
	if into.Mobile == "" {
		into.Mobile = from.Mobile
	}
	if into.Address == "" {
		into.Address = from.Address
	}
	if into.BankAccount == "" {
		into.BankAccount = from.BankAccount
	}
	return into
}

// normalizeValue folds case, punctuation and whitespace so "Flat 4, MG Road"
// and "flat 4 mg road" link. Placeholder values do not link anyone.
func normalizeValue(v string) string {
	v = strings.ToLower(v)
	v = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, v)
	v = strings.Join(strings.Fields(v), " ")
	switch v {
	case "nan", "na", "n a", "none", "null", "nil", "0":
		return ""
	}
	return v
}

func readAllowList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open allow list: %w", err)
	}
	defer f.Close()

	var values []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if v := normalizeValue(line); v != "" {
			values = append(values, v)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read allow list: %w", err)
	}
	return values, nil
}
