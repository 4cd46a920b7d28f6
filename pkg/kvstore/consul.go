package kvstore

// Modified version of https://github.com/philippgille/gokv/consul with
// string Get/Set, GetAny/SetAny and prefix listing.

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/consul/api"

	"github.com/rampline/settlement/pkg/common/enum"
	"github.com/rampline/settlement/pkg/infra"
)

// ConsulClient implements infra.KVStore.
type ConsulClient struct {
	c      *api.KV
	folder string
	codec  infra.Codec
}

func (c ConsulClient) GetName() string {
	return string(enum.KVStoreTypeConsul)
}

func (c ConsulClient) Set(k string, v string) error {
	if err := checkKeyAndValue(k, v); err != nil {
		return err
	}

	if c.folder != "" {
		k = c.folder + "/" + k
	}
	kvPair := api.KVPair{
		Key:   k,
		Value: []byte(v),
	}
	_, err := c.c.Put(&kvPair, nil)
	return err
}

func (c ConsulClient) Get(k string) (v string, err error) {
	if k == "" {
		return "", ErrKeyEmpty
	}

	if c.folder != "" {
		k = c.folder + "/" + k
	}
	kvPair, _, err := c.c.Get(k, nil)
	if err != nil {
		return "", err
	}
	if kvPair == nil {
		return "", ErrKeyNotFound
	}
	return string(kvPair.Value), nil
}

func (c ConsulClient) SetAny(k string, v any) error {
	if err := checkKeyAndValue(k, v); err != nil {
		return err
	}

	data, err := c.codec.Marshal(v)
	if err != nil {
		return err
	}

	if c.folder != "" {
		k = c.folder + "/" + k
	}
	kvPair := api.KVPair{
		Key:   k,
		Value: data,
	}
	_, err = c.c.Put(&kvPair, nil)
	return err
}

// GetAny unmarshals the stored value into v. If no value is found it
// returns (false, nil).
func (c ConsulClient) GetAny(k string, v any) (found bool, err error) {
	if err := checkKeyAndValue(k, v); err != nil {
		return false, err
	}

	if c.folder != "" {
		k = c.folder + "/" + k
	}
	kvPair, _, err := c.c.Get(k, nil)
	if err != nil {
		return false, err
	}
	if kvPair == nil {
		return false, nil
	}
	return true, c.codec.Unmarshal(kvPair.Value, v)
}

func (c ConsulClient) List(prefix string) ([]*infra.KVPair, error) {
	if prefix == "" {
		return nil, errors.New("prefix is empty")
	}

	if c.folder != "" {
		prefix = c.folder + "/" + prefix
	}

	kvPairs, _, err := c.c.List(prefix, nil)
	if err != nil {
		return nil, err
	}

	result := make([]*infra.KVPair, len(kvPairs))
	for i, kvPair := range kvPairs {
		result[i] = &infra.KVPair{
			Key:   kvPair.Key,
			Value: kvPair.Value,
		}
	}
	return result, nil
}

// Delete deletes the stored value for the given key. Deleting a
// non-existing key-value pair does NOT lead to an error.
func (c ConsulClient) Delete(k string) error {
	if k == "" {
		return ErrKeyEmpty
	}

	if c.folder != "" {
		k = c.folder + "/" + k
	}
	_, err := c.c.Delete(k, nil)
	return err
}

func (c ConsulClient) Close() error {
	return nil
}

// Options are the options for the Consul client.
type Options struct {
	// URI scheme for the Consul server. Optional ("http" by default).
	Scheme string
	// Address of the Consul server, including port number.
	// Optional ("127.0.0.1:8500" by default).
	Address string
	// Directory under which to store the key-value pairs.
	// The Consul UI calls this "folder". Optional (none by default).
	Folder string
	// Encoding format. Optional (infra.JSON by default).
	Codec infra.Codec

	Token    string
	HttpAuth *api.HttpBasicAuth
}

var DefaultConsulOptions = Options{
	Scheme:  "http",
	Address: "127.0.0.1:8500",
	Codec:   infra.JSON,
}

func NewConsulClient(options Options) (infra.KVStore, error) {
	result := ConsulClient{}

	if options.Scheme == "" {
		options.Scheme = DefaultConsulOptions.Scheme
	}
	if options.Address == "" {
		options.Address = DefaultConsulOptions.Address
	}
	if options.Codec == nil {
		options.Codec = DefaultConsulOptions.Codec
	}

	config := api.DefaultConfig()
	config.Scheme = options.Scheme
	config.Address = options.Address
	config.WaitTime = 10 * time.Second
	if options.Token != "" {
		config.Token = options.Token
	}
	if options.HttpAuth != nil {
		config.HttpAuth = options.HttpAuth
	}

	client, err := api.NewClient(config)
	if err != nil {
		return result, err
	}

	// Ping the Consul server to verify connectivity
	if _, err = client.Status().Leader(); err != nil {
		return result, fmt.Errorf("failed to connect to Consul: %w", err)
	}

	result.c = client.KV()
	result.folder = options.Folder
	result.codec = options.Codec

	return result, nil
}
