package model

type Category string

const (
	CategoryMathematics Category = "mathematics"
	CategoryScience     Category = "science"
	CategoryTechnology  Category = "technology"
	CategoryEngineering Category = "engineering"
	CategoryGeneral     Category = "general"
)

// Categories 四个固定学科，不含 general
var Categories = []Category{
	CategoryMathematics,
	CategoryScience,
	CategoryTechnology,
	CategoryEngineering,
}

var gameCategories = map[Category][]string{
	CategoryMathematics: {
		"basic-arithmetic",
		"multiplication-race",
		"fraction-master",
		"decimal-dash",
		"geometry-quest",
		"algebra-adventure",
		"equation-solver",
		"number-patterns",
		"probability-lab",
		"pythagorean-theorem",
		"prime-hunter",
		"angle-explorer",
	},
	CategoryScience: {
		"chemistry-lab",
		"periodic-table",
		"physics-motion",
		"solar-system",
		"human-body",
		"ecosystem-explorer",
		"states-of-matter",
		"cell-biology",
		"newtons-laws",
		"weather-watch",
	},
	CategoryTechnology: {
		"coding-basics",
		"binary-conversion",
		"computer-parts",
		"internet-safety",
		"algorithm-builder",
		"logic-gates",
		"data-detective",
		"network-navigator",
	},
	CategoryEngineering: {
		"bridge-builder",
		"simple-machines",
		"circuit-designer",
		"structural-design",
		"renewable-energy",
		"robot-workshop",
		"gear-trains",
		"material-strength",
	},
}

var categoryByGame = func() map[string]Category {
	m := make(map[string]Category)
	for category, games := range gameCategories {
		for _, g := range games {
			m[g] = category
		}
	}
	return m
}()

// CategoryForGame 未登记的游戏归入 general
func CategoryForGame(gameID string) Category {
	if c, ok := categoryByGame[gameID]; ok {
		return c
	}
	return CategoryGeneral
}

// GamesInCategory 返回该学科下登记的游戏
func GamesInCategory(c Category) []string {
	return append([]string{}, gameCategories[c]...)
}
