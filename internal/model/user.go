package model

// UserRole 调用方角色，来自 JWT 声明
type UserRole string

const (
	Admin       UserRole = "admin"
	Curator     UserRole = "curator"
	Contributor UserRole = "contributor"
)
