package models

// ImageCounter is the persisted singleton used to name uploaded images.
type ImageCounter struct {
	LastImageID int64 `json:"lastImageId"`
}

// UploadedImage identifies a stored image by its generated name and public URL.
type UploadedImage struct {
	Name string `json:"name"`
	URL  string `json:"imageUrl"`
}
