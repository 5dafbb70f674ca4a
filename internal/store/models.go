package store

// Object is the metadata row of a stored file.
type Object struct {
	Handle           string
	OwnerID          int64
	DisplayName      string
	StorageName      string
	SizeBytes        int64
	CreatedAt        int64
	LastDownloadedAt *int64
	Comment          *string
}

// DisplayUpdate carries the user-editable fields; nil fields are left as is.
type DisplayUpdate struct {
	DisplayName *string
	Comment     *string
}

// Empty reports whether the update changes nothing.
func (u DisplayUpdate) Empty() bool {
	return u.DisplayName == nil && u.Comment == nil
}

// Usage aggregates an owner's objects.
type Usage struct {
	FileCount  int64
	TotalBytes int64
}

// Account is a user account as seen by the storage service.
type Account struct {
	ID        int64
	Username  string
	Email     string
	FullName  string
	IsAdmin   bool
	CreatedAt int64
}
