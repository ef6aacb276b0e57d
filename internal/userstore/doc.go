// Package userstore implements the directory user-store manager: username
// to DN resolution, credential verification by bind, user and role listing,
// role membership lookup and attribute retrieval, backed by a bounded DN
// cache.
package userstore
