// Package clipper imports recipes from web pages that publish schema.org
// Recipe metadata.
package clipper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"meal-optimizer/internal/planner"
)

// ErrNoRecipe is returned when a page carries no schema.org Recipe.
var ErrNoRecipe = errors.New("no recipe metadata found")

// RecipeSaver persists clipped recipes.
type RecipeSaver interface {
	SaveRecipe(ctx context.Context, owner string, rec planner.Recipe, sourceURL string) error
}

// Clipper handles fetching and extracting recipes from URLs.
type Clipper struct {
	client *http.Client
	store  RecipeSaver
	logger *zap.Logger
}

// NewClipper creates a new Clipper instance.
func NewClipper(store RecipeSaver, logger *zap.Logger) *Clipper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Clipper{
		client: &http.Client{Timeout: 15 * time.Second},
		store:  store,
		logger: logger,
	}
}

// ClipURL fetches the page, extracts its recipe and saves it for owner.
func (c *Clipper) ClipURL(ctx context.Context, owner, url string) (*planner.Recipe, error) {
	body, err := c.fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch content: %w", err)
	}
	defer body.Close()

	rec, err := ParseRecipe(body)
	if err != nil {
		return nil, err
	}
	if err := c.store.SaveRecipe(ctx, owner, *rec, url); err != nil {
		return nil, fmt.Errorf("failed to save recipe: %w", err)
	}
	c.logger.Info("Recipe clipped",
		zap.String("url", url),
		zap.String("recipe_id", rec.ID),
		zap.Int("ingredients", len(rec.Ingredients)),
	)
	return rec, nil
}

func (c *Clipper) fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to fetch URL: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// ParseRecipe reads an HTML document and returns the first Recipe found in
// its JSON-LD blocks.
func ParseRecipe(r io.Reader) (*planner.Recipe, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var found map[string]any
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var data any
		if err := json.Unmarshal([]byte(s.Text()), &data); err != nil {
			return true
		}
		found = findRecipe(data)
		return found == nil
	})
	if found == nil {
		return nil, ErrNoRecipe
	}
	rec := toRecipe(found)
	if rec.ID == "" {
		return nil, fmt.Errorf("%w: recipe has no name", ErrNoRecipe)
	}
	return rec, nil
}

func findRecipe(node any) map[string]any {
	switch v := node.(type) {
	case []any:
		for _, item := range v {
			if rec := findRecipe(item); rec != nil {
				return rec
			}
		}
	case map[string]any:
		if isRecipeType(v["@type"]) {
			return v
		}
		if graph, ok := v["@graph"]; ok {
			return findRecipe(graph)
		}
	}
	return nil
}

func isRecipeType(t any) bool {
	for _, s := range stringList(t) {
		if s == "Recipe" {
			return true
		}
	}
	return false
}

func toRecipe(m map[string]any) *planner.Recipe {
	name := strings.TrimSpace(stringValue(m["name"]))
	rec := &planner.Recipe{
		ID:       Slugify(name),
		Name:     name,
		PrepTime: parseDuration(stringValue(m["prepTime"])),
		CookTime: parseDuration(stringValue(m["cookTime"])),
	}
	if rec.PrepTime == 0 && rec.CookTime == 0 {
		rec.CookTime = parseDuration(stringValue(m["totalTime"]))
	}
	for _, line := range stringList(m["recipeIngredient"]) {
		if ing, ok := ParseIngredient(line); ok {
			rec.Ingredients = append(rec.Ingredients, ing)
		}
	}
	seen := make(map[string]bool)
	for _, raw := range append(stringList(m["recipeCategory"]), stringList(m["keywords"])...) {
		for _, tag := range strings.Split(raw, ",") {
			tag = strings.ToLower(strings.TrimSpace(tag))
			if tag != "" && !seen[tag] {
				seen[tag] = true
				rec.Tags = append(rec.Tags, tag)
			}
		}
	}
	return rec
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

var isoDuration = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// parseDuration converts an ISO 8601 duration such as PT1H30M into minutes.
func parseDuration(s string) int {
	m := isoDuration.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(s)))
	if m == nil {
		return 0
	}
	num := func(i int) int {
		n, _ := strconv.Atoi(m[i])
		return n
	}
	return num(1)*24*60 + num(2)*60 + num(3) + num(4)/60
}

var units = map[string]string{
	"g": "g", "gram": "g", "grams": "g",
	"kg": "kg", "kilogram": "kg", "kilograms": "kg",
	"ml": "ml", "l": "l", "liter": "l", "liters": "l", "litre": "l", "litres": "l",
	"cup": "cup", "cups": "cup",
	"tbsp": "tbsp", "tablespoon": "tbsp", "tablespoons": "tbsp",
	"tsp": "tsp", "teaspoon": "tsp", "teaspoons": "tsp",
	"oz": "oz", "ounce": "oz", "ounces": "oz",
	"lb": "lb", "lbs": "lb", "pound": "lb", "pounds": "lb",
	"clove": "clove", "cloves": "clove",
	"can": "can", "cans": "can",
	"pinch": "pinch", "slice": "slice", "slices": "slice",
}

// ParseIngredient splits a line such as "1 1/2 cups flour" into quantity,
// unit and name. Lines without a leading amount count as one unit.
func ParseIngredient(line string) (planner.RecipeIngredient, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return planner.RecipeIngredient{}, false
	}

	qty, used := 0.0, 0
	for used < len(fields) && used < 2 {
		v, ok := parseAmount(fields[used])
		if !ok {
			break
		}
		qty += v
		used++
	}
	if used == 0 {
		qty = 1
	}

	unit := ""
	if used < len(fields) {
		if u, ok := units[strings.ToLower(strings.TrimSuffix(fields[used], "."))]; ok && used+1 < len(fields) {
			unit = u
			used++
		}
	}

	name := parenthetical.ReplaceAllString(strings.Join(fields[used:], " "), "")
	name = strings.TrimPrefix(strings.TrimSpace(name), "of ")
	if i := strings.Index(name, ","); i > 0 {
		name = strings.TrimSpace(name[:i])
	}
	id := Slugify(name)
	if id == "" {
		return planner.RecipeIngredient{}, false
	}
	return planner.RecipeIngredient{IngredientID: id, Name: name, Quantity: qty, Unit: unit}, true
}

var parenthetical = regexp.MustCompile(`\([^)]*\)`)

var vulgarFractions = map[string]float64{
	"½": 0.5, "⅓": 1.0 / 3, "⅔": 2.0 / 3, "¼": 0.25, "¾": 0.75, "⅛": 0.125,
}

func parseAmount(s string) (float64, bool) {
	if v, ok := vulgarFractions[s]; ok {
		return v, true
	}
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 0, false
		}
		return n / d, true
	}
	v, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s, strips accents and joins its words with dashes.
func Slugify(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	plain, _, err := transform.String(t, s)
	if err != nil {
		plain = s
	}
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(plain), "-"), "-")
}
