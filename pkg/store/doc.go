// Package store persists accounts and usage events in SQLite with
// encrypted credential material.
//
// # Credential sealing
//
// Credentials are sealed with AES-256-GCM under keys derived from the
// operator's master key via HKDF-SHA256. Each ciphertext records its key
// version, so a future master-key rotation can decrypt old rows while
// sealing new ones under the current version.
//
// Metadata reads (GetAccount, ListAccounts) never return credential
// material; the data path fetches it separately through GetCredential.
// An undecryptable blob surfaces as *EncryptionError, which callers
// treat as fatal for that account only.
//
// # Usage
//
//	cipher, err := store.NewCipher(masterKey)
//	if err != nil {
//	    return err
//	}
//	st, err := store.Open(store.DefaultConfig(), cipher)
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
package store
