package model

// User is a candidate recipient when sharing a task.
type User struct {
	ID    string `json:"_id" mapstructure:"id" yaml:"id"`
	Name  string `json:"name" mapstructure:"name" yaml:"name"`
	Email string `json:"email" mapstructure:"email" yaml:"email"`
}
