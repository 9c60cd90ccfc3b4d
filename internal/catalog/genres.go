package catalog

// DefaultGenres TMDB 类型名到 ID 的映射
var DefaultGenres = map[string]int{
	"Action":          28,
	"Adventure":       12,
	"Animation":       16,
	"Comedy":          35,
	"Crime":           80,
	"Documentary":     99,
	"Drama":           18,
	"Family":          10751,
	"Fantasy":         14,
	"History":         36,
	"Horror":          27,
	"Music":           10402,
	"Mystery":         9648,
	"Romance":         10749,
	"Science Fiction": 878,
	"TV Movie":        10770,
	"Thriller":        53,
	"War":             10752,
	"Western":         37,
}

// Genres 类型名与 ID 的双向查询
type Genres struct {
	byName map[string]int
	byID   map[int]string
}

func NewGenres(byName map[string]int) *Genres {
	g := &Genres{
		byName: make(map[string]int, len(byName)),
		byID:   make(map[int]string, len(byName)),
	}
	for name, id := range byName {
		g.byName[name] = id
		g.byID[id] = name
	}
	return g
}

// ID 未知类型返回 false
func (g *Genres) ID(name string) (int, bool) {
	id, ok := g.byName[name]
	return id, ok
}

func (g *Genres) Name(id int) (string, bool) {
	name, ok := g.byID[id]
	return name, ok
}

// IDs 把类型名转换为 ID，未知类型被丢弃
func (g *Genres) IDs(names []string) []int {
	ids := make([]int, 0, len(names))
	for _, name := range names {
		if id, ok := g.byName[name]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}
