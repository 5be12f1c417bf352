package store

import "github.com/libroteca/apiserver/types"

func typesUser(name, email string) types.User {
	return types.User{Name: name, Email: email, PasswordHash: "hash"}
}
