package app

import (
	"sort"

	"github.com/hyperjump/kbase/internal/models"
)

// AllCategories is the listing entry that disables the category filter.
const AllCategories = "All articles"

const (
	popularTagCount = 6
	cardTagCount    = 2
	cardDateLayout  = "02 Jan 2006"
)

// Card is one row of the article listing.
type Card struct {
	ID          string
	Title       string
	Description string
	Tags        []string
	Author      string
	Date        string
}

// KnowledgePage derives the listing, sidebar and tag cloud from a State.
type KnowledgePage struct {
	state State
}

func NewKnowledgePage(st State) *KnowledgePage {
	return &KnowledgePage{state: st}
}

// Categories lists AllCategories followed by each category in order of first appearance.
func (k *KnowledgePage) Categories() []string {
	out := []string{AllCategories}
	seen := map[string]bool{}
	for _, a := range k.state.Articles {
		if seen[a.Category] {
			continue
		}
		seen[a.Category] = true
		out = append(out, a.Category)
	}
	return out
}

// PopularTags returns the most used tags, most frequent first. Ties keep first-seen order.
func (k *KnowledgePage) PopularTags() []string {
	counts := map[string]int{}
	var order []string
	for _, a := range k.state.Articles {
		for _, t := range a.Tags {
			if counts[t] == 0 {
				order = append(order, t)
			}
			counts[t]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > popularTagCount {
		order = order[:popularTagCount]
	}
	return order
}

// Filter keeps articles in category (AllCategories or "" for any) that match term.
func (k *KnowledgePage) Filter(category, term string) []*models.Article {
	out := []*models.Article{}
	for _, a := range k.state.Articles {
		if category != "" && category != AllCategories && a.Category != category {
			continue
		}
		if !a.Matches(term) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Cards builds listing rows for articles.
func (k *KnowledgePage) Cards(articles []*models.Article) []Card {
	cards := make([]Card, 0, len(articles))
	for _, a := range articles {
		tags := a.Tags
		if len(tags) > cardTagCount {
			tags = tags[:cardTagCount]
		}
		cards = append(cards, Card{
			ID:          a.ID,
			Title:       a.Title,
			Description: a.Description,
			Tags:        append([]string(nil), tags...),
			Author:      models.AuthorName(k.state.Users, a.AuthorID),
			Date:        a.CreatedAt.Format(cardDateLayout),
		})
	}
	return cards
}
