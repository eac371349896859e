package app

import (
	"fmt"

	"github.com/hyperjump/kbase/internal/models"
)

// ArticleView is what the article page renders.
type ArticleView struct {
	Title string
	Meta  string
	Body  string
}

// ArticlePage shows a single article.
type ArticlePage struct {
	nav Navigator
}

func NewArticlePage(nav Navigator) *ArticlePage {
	return &ArticlePage{nav: nav}
}

// Show builds the view for id. Unknown ids navigate back to the listing.
func (p *ArticlePage) Show(st State, id string) (*ArticleView, error) {
	a, ok := st.Article(id)
	if !ok {
		p.nav.Navigate(PageKnowledge, "")
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &ArticleView{
		Title: a.Title,
		Meta:  fmt.Sprintf("By %s | Category: %s", models.AuthorName(st.Users, a.AuthorID), a.Category),
		Body:  a.Content,
	}, nil
}
