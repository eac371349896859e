package models

// User is an article author.
type User struct {
	ID   int    `json:"id" yaml:"id" db:"id"`
	Name string `json:"name" yaml:"name" db:"name"`
}

// UnknownAuthor is shown when an article's author is not among the known users.
const UnknownAuthor = "Unknown"

// AuthorName returns the name of the user with the given id, or UnknownAuthor.
func AuthorName(users []*User, id int) string {
	for _, u := range users {
		if u != nil && u.ID == id {
			return u.Name
		}
	}
	return UnknownAuthor
}
