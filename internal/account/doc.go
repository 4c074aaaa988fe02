// Package account implements signup, authentication, password change and
// account deletion. The bcrypt hash of an account's password is also the
// secret of its encrypted volume, so every password change rotates the
// volume secret before the new hash is stored.
package account
